package padsvc

// tracker deduplicates raw samples against the last delivered state, per
// (gamepad, control index). It runs only on the mediator goroutine and its
// state lives and dies with the owning gamepad record.
type tracker struct {
	deadzone float64
	devices  map[GamepadID]*deviceState
}

type deviceState struct {
	axes    []AxisState
	buttons []ButtonState
}

func newTracker(deadzone float64) *tracker {
	return &tracker{
		deadzone: deadzone,
		devices:  make(map[GamepadID]*deviceState),
	}
}

func (t *tracker) attach(id GamepadID, desc DeviceDescriptor) *deviceState {
	st := &deviceState{
		axes:    make([]AxisState, desc.Axes),
		buttons: make([]ButtonState, desc.Buttons),
	}
	for i := range st.axes {
		st.axes[i].Deadzone = t.deadzone
	}
	t.devices[id] = st
	return st
}

func (t *tracker) detach(id GamepadID) {
	delete(t.devices, id)
}

func (t *tracker) setDeadzone(deadzone float64) {
	t.deadzone = deadzone
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// sample folds one raw reading into the stored state and reports whether a
// semantic event came out of it. Unknown gamepads and out-of-range indexes
// produce nothing.
func (t *tracker) sample(id GamepadID, s RawSample) (Event, bool) {
	st, ok := t.devices[id]
	if !ok {
		return Event{}, false
	}
	switch s.Kind {
	case ControlAxis:
		return t.sampleAxis(id, st, s)
	case ControlButton:
		return t.sampleButton(id, st, s)
	}
	return Event{}, false
}

func (t *tracker) sampleAxis(id GamepadID, st *deviceState, s RawSample) (Event, bool) {
	if s.Index < 0 || s.Index >= len(st.axes) {
		return Event{}, false
	}
	axis := &st.axes[s.Index]
	v := clamp(s.Value)
	if abs(v-axis.Value) < axis.Deadzone {
		return Event{}, false
	}
	axis.Value = v
	return Event{
		Kind:    EventAxisChanged,
		Gamepad: id,
		Index:   s.Index,
		Value:   v,
	}, true
}

func (t *tracker) sampleButton(id GamepadID, st *deviceState, s RawSample) (Event, bool) {
	if s.Index < 0 || s.Index >= len(st.buttons) {
		return Event{}, false
	}
	btn := &st.buttons[s.Index]
	pressure := clamp01(s.Value)
	if s.Pressed == btn.Pressed {
		// No edge. Analog pressure still tracks under the axis deadzone
		// policy but never produces an event of its own.
		if abs(pressure-btn.Pressure) >= t.deadzone {
			btn.Pressure = pressure
		}
		return Event{}, false
	}
	btn.Pressed = s.Pressed
	btn.Pressure = pressure
	kind := EventButtonReleased
	if s.Pressed {
		kind = EventButtonPressed
	}
	return Event{
		Kind:    kind,
		Gamepad: id,
		Index:   s.Index,
		Value:   pressure,
	}, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
