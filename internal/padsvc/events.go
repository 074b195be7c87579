package padsvc

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
)

// GamepadID is a handle to a gamepad record. IDs are never reused for a
// different physical device within the lifetime of a Service, and a device
// reporting a persistent serial gets the same ID back after a reconnect.
type GamepadID uint32

func (id GamepadID) String() string {
	return fmt.Sprintf("pad%d", uint32(id))
}

func (id GamepadID) MarshalYAML() ([]byte, error) {
	return yaml.Marshal(id.String())
}

// Status is the externally visible connection state of a gamepad.
type Status uint8

const (
	StatusConnected Status = iota
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// DeviceDescriptor identifies a physical device as reported by a backend.
// Serial is empty when the platform exposes no persistent serial; Path is a
// backend-specific location hint (device node, HID path) used as a
// best-effort fallback for identity matching.
type DeviceDescriptor struct {
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`
	Serial    string `json:"serial,omitempty"`
	Path      string `json:"path,omitempty"`
	Name      string `json:"name"`
	Axes      int    `json:"axes"`
	Buttons   int    `json:"buttons"`
}

func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// AxisState is the last delivered position of one axis.
type AxisState struct {
	Value    float64 `json:"value"`
	Deadzone float64 `json:"deadzone"`
}

// ButtonState is the last delivered state of one button. Pressure stays zero
// for purely digital buttons.
type ButtonState struct {
	Pressed  bool    `json:"pressed"`
	Pressure float64 `json:"pressure,omitempty"`
}

// Gamepad is a point-in-time snapshot of one device record.
type Gamepad struct {
	ID      GamepadID     `json:"id"`
	Name    string        `json:"name"`
	Status  Status        `json:"status"`
	Axes    []AxisState   `json:"axes"`
	Buttons []ButtonState `json:"buttons"`

	Descriptor DeviceDescriptor `json:"descriptor"`
}

func (g Gamepad) clone() Gamepad {
	c := g
	c.Axes = make([]AxisState, len(g.Axes))
	copy(c.Axes, g.Axes)
	c.Buttons = make([]ButtonState, len(g.Buttons))
	copy(c.Buttons, g.Buttons)
	return c
}

// EventKind discriminates the semantic events delivered to the consumer.
type EventKind uint8

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventButtonPressed
	EventButtonReleased
	EventAxisChanged
	EventDropped
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventButtonPressed:
		return "ButtonPressed"
	case EventButtonReleased:
		return "ButtonReleased"
	case EventAxisChanged:
		return "AxisChanged"
	case EventDropped:
		return "Dropped"
	}
	return fmt.Sprintf("EventKind(%d)", uint8(k))
}

// Event is one entry of the semantic event stream. Seq is strictly increasing
// over the lifetime of a Service; a gap in Seq only ever appears where queue
// overflow evicted events, and the covering Dropped entry reuses the Seq of
// the first evicted event.
type Event struct {
	Kind    EventKind
	Gamepad GamepadID
	Index   int
	// Value carries the clamped axis position for AxisChanged and the analog
	// pressure, when the button reports one, for ButtonPressed/ButtonReleased.
	Value float64
	// Drops is the running overflow counter, set on Dropped events only.
	Drops uint64
	Seq   uint64
	Time  time.Time
}

// ControlKind tags a raw sample as targeting an axis or a button.
type ControlKind uint8

const (
	ControlAxis ControlKind = iota
	ControlButton
)

// RawHotplug reports a connect or disconnect observed by a backend.
type RawHotplug struct {
	Descriptor DeviceDescriptor
	Connected  bool
}

// RawSample is one unprocessed hardware reading. For axes Value is the
// position before clamping; for buttons Pressed carries the digital state and
// Value the analog pressure when the hardware reports one.
type RawSample struct {
	Descriptor DeviceDescriptor
	Kind       ControlKind
	Index      int
	Value      float64
	Pressed    bool
}

// RawItem is the single shape every backend funnels into: exactly one of
// Hotplug or Sample is set.
type RawItem struct {
	Hotplug *RawHotplug
	Sample  *RawSample
}
