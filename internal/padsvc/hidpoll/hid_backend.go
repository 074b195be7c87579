//go:build darwin || windows

// Package hidpoll implements the backend for platforms without a native
// hotplug signal. Devices are found by diffing periodic hidapi enumeration
// passes, and input reports are polled per device.
//
// Reports are interpreted with the generic layout used by most simple pads
// (four axis bytes followed by a 16-bit button bitmask). Devices with other
// layouts still get correct hotplug and identity handling.
package hidpoll

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/padmux/padmux/internal/padsvc"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"
)

const (
	usagePageGenericDesktop = 0x01
	usageJoystick           = 0x04
	usageGamepad            = 0x05
)

const (
	reportAxes    = 4
	reportButtons = 16
)

var defaultBackendOptions = backendOptions{
	pollInterval: 1 * time.Second,
	readTimeout:  20 * time.Millisecond,
}

type backendOptions struct {
	pollInterval time.Duration
	readTimeout  time.Duration
}

type Option func(*backendOptions)

// WithPollInterval sets the re-enumeration interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.pollInterval = d
	}
}

type Backend struct {
	log     *zap.Logger
	options backendOptions

	devices *xsync.MapOf[string, *hidDevice]
	ready   chan struct{}

	publisher padsvc.RawPublisher
}

func NewBackend(log *zap.Logger, opts ...Option) *Backend {
	options := defaultBackendOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:     log,
		options: options,
		devices: xsync.NewMapOf[string, *hidDevice](),
		ready:   make(chan struct{}),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, publisher padsvc.RawPublisher) error {
	if err := hid.Init(); err != nil {
		return fmt.Errorf("hidapi unavailable: %w", err)
	}
	defer hid.Exit()
	b.publisher = publisher

	b.log.Info("starting hidapi polling backend")
	b.refresh(ctx)
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}

	pollTicker := time.NewTicker(b.options.pollInterval)
	defer pollTicker.Stop()
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			b.refresh(ctx)
		}
	}
}

func (b *Backend) Enumerate() ([]padsvc.DeviceDescriptor, error) {
	// Enumerate may run before Start; hid.Init is idempotent.
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("hidapi unavailable: %w", err)
	}
	infos, err := b.enumerate()
	if err != nil {
		return nil, err
	}
	descs := make([]padsvc.DeviceDescriptor, 0, len(infos))
	for _, info := range infos {
		descs = append(descs, describe(info))
	}
	return descs, nil
}

func (b *Backend) enumerate() (map[string]hid.DeviceInfo, error) {
	infos := make(map[string]hid.DeviceInfo)
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(info *hid.DeviceInfo) error {
		if info.UsagePage != usagePageGenericDesktop {
			return nil
		}
		if info.Usage != usageJoystick && info.Usage != usageGamepad {
			return nil
		}
		infos[info.Path] = *info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func describe(info hid.DeviceInfo) padsvc.DeviceDescriptor {
	var parts []string
	if info.MfrStr != "" {
		parts = append(parts, info.MfrStr)
	}
	if info.ProductStr != "" {
		parts = append(parts, info.ProductStr)
	}
	desc := padsvc.DeviceDescriptor{
		VendorID:  info.VendorID,
		ProductID: info.ProductID,
		Serial:    info.SerialNbr,
		Path:      info.Path,
		Name:      strings.Join(parts, " "),
		Axes:      reportAxes,
		Buttons:   reportButtons,
	}
	if desc.Name == "" {
		desc.Name = desc.String()
	}
	return desc
}

// refresh synthesizes hotplug from enumeration diffs; hidapi has no monitor.
func (b *Backend) refresh(ctx context.Context) {
	infos, err := b.enumerate()
	if err != nil {
		b.log.Error("failed to enumerate HID devices", zap.Error(err))
		return
	}
	b.devices.Range(func(path string, dev *hidDevice) bool {
		if _, ok := infos[path]; !ok {
			b.devices.Delete(path)
			dev.close()
			b.publisher(ctx, padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: dev.desc, Connected: false}})
			return true
		}
		delete(infos, path)
		return true
	})
	for path, info := range infos {
		dev, err := b.open(ctx, info)
		if err != nil {
			b.log.Warn("failed to open HID device", zap.String("path", path), zap.Error(err))
			continue
		}
		b.devices.Store(path, dev)
		b.publisher(ctx, padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: dev.desc, Connected: true}})
	}
}

func (b *Backend) closeAll() {
	b.devices.Range(func(path string, dev *hidDevice) bool {
		b.devices.Delete(path)
		dev.close()
		return true
	})
}

type hidDevice struct {
	log    *zap.Logger
	desc   padsvc.DeviceDescriptor
	dev    *hid.Device
	cancel context.CancelFunc
}

func (b *Backend) open(ctx context.Context, info hid.DeviceInfo) (*hidDevice, error) {
	d, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	dev := &hidDevice{
		log:    b.log.Named(fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID)),
		desc:   describe(info),
		dev:    d,
		cancel: cancel,
	}
	go dev.read(ctx, b.publisher, b.options.readTimeout)
	return dev, nil
}

func (d *hidDevice) read(ctx context.Context, publisher padsvc.RawPublisher, timeout time.Duration) {
	buf := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := d.dev.ReadWithTimeout(buf, timeout)
		if err != nil {
			// Unplug surfaces as a read error; the enumeration diff reports
			// the disconnect.
			return
		}
		if n == 0 {
			continue
		}
		d.decode(ctx, publisher, buf[:n])
	}
}

func (d *hidDevice) decode(ctx context.Context, publisher padsvc.RawPublisher, report []byte) {
	for i := 0; i < reportAxes && i < len(report); i++ {
		publisher(ctx, padsvc.RawItem{Sample: &padsvc.RawSample{
			Descriptor: d.desc,
			Kind:       padsvc.ControlAxis,
			Index:      i,
			Value:      (float64(report[i]) - 128) / 127,
		}})
	}
	if len(report) < reportAxes+2 {
		return
	}
	mask := uint16(report[reportAxes]) | uint16(report[reportAxes+1])<<8
	for i := 0; i < reportButtons; i++ {
		pressed := mask&(1<<i) != 0
		sample := padsvc.RawSample{
			Descriptor: d.desc,
			Kind:       padsvc.ControlButton,
			Index:      i,
			Pressed:    pressed,
		}
		if pressed {
			sample.Value = 1
		}
		publisher(ctx, padsvc.RawItem{Sample: &sample})
	}
}

func (d *hidDevice) close() {
	d.cancel()
	if err := d.dev.Close(); err != nil {
		d.log.Debug("failed to close device", zap.Error(err))
	}
}
