package padsvc

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// deviceRegistry owns the gamepad records. Every mutation happens on the
// mediator goroutine; the published xsync map carries read-only snapshot
// copies so Gamepads()/Gamepad() never touch mediator state.
type deviceRegistry struct {
	log      *zap.Logger
	grace    time.Duration
	deadzone float64
	now      func() time.Time

	nextID  GamepadID
	byKey   map[string]GamepadID
	records map[GamepadID]*deviceRecord

	snapshots *xsync.MapOf[GamepadID, Gamepad]
}

type deviceRecord struct {
	pad            Gamepad
	key            string
	disconnectedAt time.Time
}

func newDeviceRegistry(log *zap.Logger, grace time.Duration, deadzone float64, now func() time.Time) *deviceRegistry {
	return &deviceRegistry{
		log:       log,
		grace:     grace,
		deadzone:  deadzone,
		now:       now,
		byKey:     make(map[string]GamepadID),
		records:   make(map[GamepadID]*deviceRecord),
		snapshots: xsync.NewMapOf[GamepadID, Gamepad](),
	}
}

// identityKey derives the registry key for a descriptor. A persistent serial
// gives an exact, reconnect-stable key. Without one the device node path is
// used, which survives a replug into the same port only.
func identityKey(d DeviceDescriptor) string {
	if d.Serial != "" {
		return fmt.Sprintf("%04x:%04x:%s", d.VendorID, d.ProductID, d.Serial)
	}
	if d.Path != "" {
		return fmt.Sprintf("%04x:%04x@%s", d.VendorID, d.ProductID, d.Path)
	}
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// register returns the id for a descriptor, reviving a disconnected record
// when the identity matches (reconnect) and allocating a fresh one otherwise.
// The second result reports whether the device was already known.
func (r *deviceRegistry) register(desc DeviceDescriptor) (GamepadID, bool) {
	key := identityKey(desc)
	id, ok := r.byKey[key]
	if !ok && desc.Serial == "" {
		// Best-effort fallback: a serial-less device replugged into another
		// port matches the oldest disconnected record of the same model.
		id, ok = r.matchDisconnected(desc)
	}
	if ok {
		rec := r.records[id]
		delete(r.byKey, rec.key)
		rec.key = key
		r.byKey[key] = id
		rec.pad.Status = StatusConnected
		rec.pad.Descriptor = desc
		rec.disconnectedAt = time.Time{}
		r.publish(rec)
		return id, true
	}

	r.nextID++
	id = r.nextID
	rec := &deviceRecord{
		key: key,
		pad: Gamepad{
			ID:         id,
			Name:       desc.Name,
			Status:     StatusConnected,
			Axes:       make([]AxisState, desc.Axes),
			Buttons:    make([]ButtonState, desc.Buttons),
			Descriptor: desc,
		},
	}
	for i := range rec.pad.Axes {
		rec.pad.Axes[i].Deadzone = r.deadzone
	}
	r.byKey[key] = id
	r.records[id] = rec
	r.publish(rec)
	return id, false
}

func (r *deviceRegistry) matchDisconnected(desc DeviceDescriptor) (GamepadID, bool) {
	var best GamepadID
	found := false
	for id, rec := range r.records {
		if rec.pad.Status != StatusDisconnected {
			continue
		}
		d := rec.pad.Descriptor
		if d.Serial != "" || d.VendorID != desc.VendorID || d.ProductID != desc.ProductID {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

// unregister flips the record to Disconnected and starts the grace period.
// The record stays queryable until reap destroys it.
func (r *deviceRegistry) unregister(id GamepadID) bool {
	rec, ok := r.records[id]
	if !ok || rec.pad.Status == StatusDisconnected {
		return false
	}
	rec.pad.Status = StatusDisconnected
	rec.disconnectedAt = r.now()
	r.publish(rec)
	return true
}

// lookup resolves a descriptor to a live record without mutating anything.
func (r *deviceRegistry) lookup(desc DeviceDescriptor) (GamepadID, bool) {
	id, ok := r.byKey[identityKey(desc)]
	return id, ok
}

func (r *deviceRegistry) get(id GamepadID) (Gamepad, bool) {
	rec, ok := r.records[id]
	if !ok {
		return Gamepad{}, false
	}
	return rec.pad.clone(), true
}

// apply folds a delivered event into the record snapshot so that the snapshot
// always equals the cumulative effect of the delivered stream.
func (r *deviceRegistry) apply(ev Event) {
	rec, ok := r.records[ev.Gamepad]
	if !ok {
		return
	}
	switch ev.Kind {
	case EventAxisChanged:
		if ev.Index >= 0 && ev.Index < len(rec.pad.Axes) {
			rec.pad.Axes[ev.Index].Value = ev.Value
		}
	case EventButtonPressed, EventButtonReleased:
		if ev.Index >= 0 && ev.Index < len(rec.pad.Buttons) {
			rec.pad.Buttons[ev.Index].Pressed = ev.Kind == EventButtonPressed
			rec.pad.Buttons[ev.Index].Pressure = ev.Value
		}
	default:
		return
	}
	r.publish(rec)
}

// reap destroys records whose grace period has elapsed and returns the ids it
// removed so the caller can drop tracker state with them.
func (r *deviceRegistry) reap() []GamepadID {
	var dead []GamepadID
	cutoff := r.now().Add(-r.grace)
	for id, rec := range r.records {
		if rec.pad.Status != StatusDisconnected || rec.disconnectedAt.After(cutoff) {
			continue
		}
		dead = append(dead, id)
		delete(r.byKey, rec.key)
		delete(r.records, id)
		r.snapshots.Delete(id)
	}
	if len(dead) > 0 {
		r.log.Debug("reaped records", zap.Int("count", len(dead)))
	}
	return dead
}

func (r *deviceRegistry) publish(rec *deviceRecord) {
	r.snapshots.Store(rec.pad.ID, rec.pad.clone())
}

// snapshot reads are lock-free for external callers. The stored value is
// cloned again on the way out so callers cannot alias the published slices.
func (r *deviceRegistry) snapshot(id GamepadID) (Gamepad, bool) {
	pad, ok := r.snapshots.Load(id)
	if !ok {
		return Gamepad{}, false
	}
	return pad.clone(), true
}

func (r *deviceRegistry) snapshotAll() []Gamepad {
	pads := make([]Gamepad, 0, r.snapshots.Size())
	r.snapshots.Range(func(_ GamepadID, pad Gamepad) bool {
		pads = append(pads, pad.clone())
		return true
	})
	return pads
}
