// Package virtual provides an in-process backend whose devices are driven by
// code instead of hardware. It backs the end-to-end tests and the simulate
// command.
package virtual

import (
	"context"
	"fmt"
	"sync"

	"github.com/padmux/padmux/internal/padsvc"
)

// Backend implements padsvc.Backend. Connect/Disconnect/Press/Release/Move
// may be called from any goroutine once Start is running; before that they
// return an error instead of blocking.
type Backend struct {
	mu        sync.Mutex
	ready     chan struct{}
	ctx       context.Context
	publisher padsvc.RawPublisher
	devices   map[string]padsvc.DeviceDescriptor
}

func NewBackend() *Backend {
	return &Backend{
		ready:   make(chan struct{}),
		devices: make(map[string]padsvc.DeviceDescriptor),
	}
}

func (b *Backend) Start(ctx context.Context, pub padsvc.RawPublisher) error {
	b.mu.Lock()
	b.ctx = ctx
	b.publisher = pub
	b.mu.Unlock()
	close(b.ready)
	<-ctx.Done()
	return nil
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Enumerate() ([]padsvc.DeviceDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	descs := make([]padsvc.DeviceDescriptor, 0, len(b.devices))
	for _, d := range b.devices {
		descs = append(descs, d)
	}
	return descs, nil
}

func (b *Backend) publish(item padsvc.RawItem) error {
	b.mu.Lock()
	ctx, pub := b.ctx, b.publisher
	b.mu.Unlock()
	if pub == nil {
		return fmt.Errorf("backend not started")
	}
	pub(ctx, item)
	return nil
}

// Connect attaches a virtual device and reports the hotplug.
func (b *Backend) Connect(desc padsvc.DeviceDescriptor) error {
	b.mu.Lock()
	b.devices[desc.Path] = desc
	b.mu.Unlock()
	return b.publish(padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: desc, Connected: true}})
}

// Disconnect detaches a previously connected virtual device.
func (b *Backend) Disconnect(desc padsvc.DeviceDescriptor) error {
	b.mu.Lock()
	delete(b.devices, desc.Path)
	b.mu.Unlock()
	return b.publish(padsvc.RawItem{Hotplug: &padsvc.RawHotplug{Descriptor: desc, Connected: false}})
}

// Press pushes a button down with full pressure.
func (b *Backend) Press(desc padsvc.DeviceDescriptor, button int) error {
	return b.publish(padsvc.RawItem{Sample: &padsvc.RawSample{
		Descriptor: desc,
		Kind:       padsvc.ControlButton,
		Index:      button,
		Pressed:    true,
		Value:      1,
	}})
}

// Release lets a button up.
func (b *Backend) Release(desc padsvc.DeviceDescriptor, button int) error {
	return b.publish(padsvc.RawItem{Sample: &padsvc.RawSample{
		Descriptor: desc,
		Kind:       padsvc.ControlButton,
		Index:      button,
	}})
}

// Move reports an axis position. Values outside [-1, 1] are passed through
// raw; the core clamps them.
func (b *Backend) Move(desc padsvc.DeviceDescriptor, axis int, value float64) error {
	return b.publish(padsvc.RawItem{Sample: &padsvc.RawSample{
		Descriptor: desc,
		Kind:       padsvc.ControlAxis,
		Index:      axis,
		Value:      value,
	}})
}
