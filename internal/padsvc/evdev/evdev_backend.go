//go:build linux

// Package evdev implements the Linux backend on top of the kernel joystick
// interface (/dev/input/js*). Hotplug arrives through a udev netlink monitor,
// with a periodic re-enumeration pass as fallback; both funnel into the same
// diffing logic.
package evdev

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/jochenvg/go-udev"
	"github.com/padmux/padmux/internal/padsvc"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// joystick interface ioctls
const (
	jsiocGAxes    = 0x80016a11
	jsiocGButtons = 0x80016a12
	jsiocGName    = 0x80006a13 + (128 << 16)
)

const (
	jsEventButton = 0x01
	jsEventAxis   = 0x02
	jsEventInit   = 0x80
)

const axisMax = 32767.0

// jsEvent mirrors struct js_event from <linux/joystick.h>.
type jsEvent struct {
	Time   uint32
	Value  int16
	Type   uint8
	Number uint8
}

var defaultBackendOptions = backendOptions{
	pollInterval: 1 * time.Second,
}

type backendOptions struct {
	pollInterval time.Duration
}

type Option func(*backendOptions)

// WithPollInterval sets the re-enumeration fallback interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.pollInterval = d
	}
}

type Backend struct {
	log     *zap.Logger
	options backendOptions

	udev      *udev.Udev
	devices   *xsync.MapOf[string, *joystickDevice]
	readyOnce sync.Once
	ready     chan struct{}

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
		udev:    &udev.Udev{},
		devices: xsync.NewMapOf[string, *joystickDevice](),
		ready:   make(chan struct{}),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, publisher padsvc.RawPublisher) error {
	b.publisher = publisher

	monitor := b.udev.NewMonitorFromNetlink("udev")
	if monitor == nil {
		return fmt.Errorf("udev monitor unavailable")
	}
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	hotplug, err := monitor.DeviceChan(monitorCtx)
	if err != nil {
		return fmt.Errorf("failed to open udev monitor: %w", err)
	}

	b.log.Info("starting Linux joystick backend")
	b.refresh(ctx)
	b.readyOnce.Do(func() { close(b.ready) })

	pollTicker := time.NewTicker(b.options.pollInterval)
	defer pollTicker.Stop()
	defer b.closeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case dev, ok := <-hotplug:
			if !ok {
				return fmt.Errorf("udev monitor closed")
			}
			if dev.Subsystem() != "input" {
				continue
			}
			if node := dev.Devnode(); strings.HasPrefix(filepath.Base(node), "js") {
				b.refresh(ctx)
			}
		case <-pollTicker.C:
			b.refresh(ctx)
		}
	}
}

// Enumerate probes the currently attached joystick nodes without keeping them
// open.
func (b *Backend) Enumerate() ([]padsvc.DeviceDescriptor, error) {
	nodes, err := b.joystickNodes()
	if err != nil {
		return nil, err
	}
	descs := make([]padsvc.DeviceDescriptor, 0, len(nodes))
	for node, dev := range nodes {
		desc, err := b.describe(node, dev)
		if err != nil {
			b.log.Debug("skipping device", zap.String("node", node), zap.Error(err))
			continue
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func (b *Backend) joystickNodes() (map[string]*udev.Device, error) {
	e := b.udev.NewEnumerate()
	if err := e.AddMatchSubsystem("input"); err != nil {
		return nil, fmt.Errorf("failed to match input subsystem: %w", err)
	}
	if err := e.AddMatchProperty("ID_INPUT_JOYSTICK", "1"); err != nil {
		return nil, fmt.Errorf("failed to match joystick property: %w", err)
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	nodes := make(map[string]*udev.Device)
	for _, dev := range devices {
		node := dev.Devnode()
		if node == "" || !strings.HasPrefix(filepath.Base(node), "js") {
			continue
		}
		nodes[node] = dev
	}
	return nodes, nil
}

// refresh diffs the attached nodes against the open devices and reports the
// difference as hotplug. A failing device is skipped, not fatal.
func (b *Backend) refresh(ctx context.Context) {
	nodes, err := b.joystickNodes()
	if err != nil {
		b.log.Error("failed to enumerate joysticks", zap.Error(err))
		return
	}
	b.devices.Range(func(node string, dev *joystickDevice) bool {
		if _, ok := nodes[node]; !ok {
			b.devices.Delete(node)
			dev.close()
			b.publisher(ctx, padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: dev.desc, Connected: false}})
			return true
		}
		delete(nodes, node)
		return true
	})
	for node, udevDev := range nodes {
		dev, err := b.open(ctx, node, udevDev)
		if err != nil {
			b.log.Warn("failed to open joystick", zap.String("node", node), zap.Error(err))
			continue
		}
		b.devices.Store(node, dev)
		b.publisher(ctx, padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: dev.desc, Connected: true}})
	}
}

func (b *Backend) closeAll(ctx context.Context) {
	b.devices.Range(func(node string, dev *joystickDevice) bool {
		b.devices.Delete(node)
		dev.close()
		return true
	})
}

func (b *Backend) describe(node string, dev *udev.Device) (padsvc.DeviceDescriptor, error) {
	f, err := os.Open(node)
	if err != nil {
		return padsvc.DeviceDescriptor{}, err
	}
	defer f.Close()
	return describeFile(f, node, dev)
}

func describeFile(f *os.File, node string, dev *udev.Device) (padsvc.DeviceDescriptor, error) {
	var axes, buttons uint8
	if err := ioctl(f, jsiocGAxes, unsafe.Pointer(&axes)); err != nil {
		return padsvc.DeviceDescriptor{}, fmt.Errorf("failed to query axes: %w", err)
	}
	if err := ioctl(f, jsiocGButtons, unsafe.Pointer(&buttons)); err != nil {
		return padsvc.DeviceDescriptor{}, fmt.Errorf("failed to query buttons: %w", err)
	}
	name := make([]byte, 128)
	if err := ioctl(f, jsiocGName, unsafe.Pointer(&name[0])); err != nil {
		return padsvc.DeviceDescriptor{}, fmt.Errorf("failed to query name: %w", err)
	}
	desc := padsvc.DeviceDescriptor{
		VendorID:  parseHexProperty(dev, "ID_VENDOR_ID"),
		ProductID: parseHexProperty(dev, "ID_MODEL_ID"),
		Serial:    dev.PropertyValue("ID_SERIAL_SHORT"),
		Path:      node,
		Name:      cString(name),
		Axes:      int(axes),
		Buttons:   int(buttons),
	}
	if desc.Name == "" {
		desc.Name = desc.String()
	}
	return desc, nil
}

func parseHexProperty(dev *udev.Device, key string) uint16 {
	v, err := strconv.ParseUint(dev.PropertyValue(key), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func ioctl(f *os.File, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

type joystickDevice struct {
	log  *zap.Logger
	desc padsvc.DeviceDescriptor
	file *os.File
}

func (b *Backend) open(ctx context.Context, node string, udevDev *udev.Device) (*joystickDevice, error) {
	f, err := os.Open(node)
	if err != nil {
		return nil, err
	}
	desc, err := describeFile(f, node, udevDev)
	if err != nil {
		f.Close()
		return nil, err
	}
	dev := &joystickDevice{
		log:  b.log.Named(filepath.Base(node)),
		desc: desc,
		file: f,
	}
	go dev.read(ctx, b.publisher)
	return dev, nil
}

// read pumps kernel joystick events until the file is closed or ctx ends.
// Synthetic init events (current state replayed on open) go through the same
// path; the core deduplicates them.
func (d *joystickDevice) read(ctx context.Context, publisher padsvc.RawPublisher) {
	for {
		var ev jsEvent
		if err := binary.Read(d.file, binary.LittleEndian, &ev); err != nil {
			// Closed on unplug or shutdown; the enumeration diff reports the
			// disconnect.
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		sample := padsvc.RawSample{Descriptor: d.desc, Index: int(ev.Number)}
		switch ev.Type &^ jsEventInit {
		case jsEventAxis:
			sample.Kind = padsvc.ControlAxis
			sample.Value = float64(ev.Value) / axisMax
		case jsEventButton:
			sample.Kind = padsvc.ControlButton
			sample.Pressed = ev.Value != 0
			if ev.Value != 0 {
				sample.Value = 1
			}
		default:
			continue
		}
		publisher(ctx, padsvc.RawItem{Sample: &sample})
	}
}

func (d *joystickDevice) close() {
	if err := d.file.Close(); err != nil {
		d.log.Debug("failed to close device", zap.Error(err))
	}
}
