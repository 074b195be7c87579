package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/padmux/padmux/internal/padsvc"
)

// catalog keeps a first-seen/last-seen history of every device that ever
// connected, for diagnostics. The input core itself holds no persistent
// state.
type catalog struct {
	db  *badger.DB
	now func() time.Time
}

type CatalogEntry struct {
	VendorID    uint16    `json:"vendorId"`
	ProductID   uint16    `json:"productId"`
	Serial      string    `json:"serial,omitempty"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func newCatalog(db *badger.DB, now func() time.Time) *catalog {
	return &catalog{db: db, now: now}
}

func (c *catalog) key(desc padsvc.DeviceDescriptor) []byte {
	return []byte(fmt.Sprintf("pads/%04x:%04x:%s", desc.VendorID, desc.ProductID, desc.Serial))
}

func (c *catalog) record(pad padsvc.Gamepad) error {
	if pad.Status != padsvc.StatusConnected {
		return nil
	}
	desc := pad.Descriptor
	now := c.now()
	return c.db.Update(func(txn *badger.Txn) error {
		key := c.key(desc)
		entry := CatalogEntry{
			VendorID:  desc.VendorID,
			ProductID: desc.ProductID,
			Serial:    desc.Serial,
			Name:      pad.Name,
		}
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal catalog entry: %w", err)
			}
		}
		if entry.FirstSeenAt.IsZero() {
			entry.FirstSeenAt = now
		}
		entry.LastSeenAt = now
		b, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal catalog entry: %w", err)
		}
		return txn.Set(key, b)
	})
}

func (c *catalog) list() ([]CatalogEntry, error) {
	var entries []CatalogEntry
	err := c.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("pads/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var entry CatalogEntry
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	return entries, nil
}
