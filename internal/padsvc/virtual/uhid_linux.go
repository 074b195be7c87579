//go:build linux

package virtual

import (
	"context"
	"fmt"

	"github.com/psanford/uhid"
)

// gamepadDescriptor describes a 2-axis 8-button pad: X/Y as signed bytes
// followed by one button bitmask byte.
var gamepadDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x05, // Usage (Game Pad)
	0xa1, 0x01, // Collection (Application)
	0x09, 0x30, //   Usage (X)
	0x09, 0x31, //   Usage (Y)
	0x15, 0x81, //   Logical Minimum (-127)
	0x25, 0x7f, //   Logical Maximum (127)
	0x75, 0x08, //   Report Size (8)
	0x95, 0x02, //   Report Count (2)
	0x81, 0x02, //   Input (Data,Var,Abs)
	0x05, 0x09, //   Usage Page (Button)
	0x19, 0x01, //   Usage Minimum (1)
	0x29, 0x08, //   Usage Maximum (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data,Var,Abs)
	0xc0, // End Collection
}

// KernelPad is a kernel-visible virtual gamepad created through uhid. It lets
// the simulate command exercise the real platform backend end to end.
type KernelPad struct {
	dev     *uhid.Device
	cancel  context.CancelFunc
	axes    [2]int8
	buttons uint8
}

func NewKernelPad(name string, vendorID, productID uint32) (*KernelPad, error) {
	dev, err := uhid.NewDevice(name, gamepadDescriptor)
	if err != nil {
		return nil, fmt.Errorf("failed to create uhid device: %w", err)
	}
	dev.Data.Bus = 0x03
	dev.Data.VendorID = vendorID
	dev.Data.ProductID = productID

	ctx, cancel := context.WithCancel(context.Background())
	events, err := dev.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open uhid device: %w", err)
	}
	go func() {
		// uhid requires the event channel to be drained.
		for {
			select {
			case <-ctx.Done():
				return
			case <-events:
			}
		}
	}()
	return &KernelPad{dev: dev, cancel: cancel}, nil
}

// SetAxis positions axis 0 or 1 in [-1, 1] and reports the new state.
func (p *KernelPad) SetAxis(axis int, value float64) error {
	if axis < 0 || axis > 1 {
		return fmt.Errorf("axis out of range: %d", axis)
	}
	if value > 1 {
		value = 1
	}
	if value < -1 {
		value = -1
	}
	p.axes[axis] = int8(value * 127)
	return p.report()
}

// SetButton presses or releases one of the 8 buttons.
func (p *KernelPad) SetButton(button int, pressed bool) error {
	if button < 0 || button > 7 {
		return fmt.Errorf("button out of range: %d", button)
	}
	if pressed {
		p.buttons |= 1 << button
	} else {
		p.buttons &^= 1 << button
	}
	return p.report()
}

func (p *KernelPad) report() error {
	return p.dev.InjectEvent([]byte{byte(p.axes[0]), byte(p.axes[1]), p.buttons})
}

func (p *KernelPad) Close() error {
	p.cancel()
	return p.dev.Close()
}
