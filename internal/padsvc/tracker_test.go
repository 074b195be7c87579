package padsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor() DeviceDescriptor {
	return DeviceDescriptor{
		VendorID:  0x054c,
		ProductID: 0x09cc,
		Serial:    "abc123",
		Name:      "test pad",
		Axes:      2,
		Buttons:   2,
	}
}

func newTestTracker() (*tracker, GamepadID) {
	tr := newTracker(0.05)
	id := GamepadID(1)
	tr.attach(id, testDescriptor())
	return tr, id
}

func axisSample(index int, value float64) RawSample {
	return RawSample{Kind: ControlAxis, Index: index, Value: value}
}

func buttonSample(index int, pressed bool, pressure float64) RawSample {
	return RawSample{Kind: ControlButton, Index: index, Pressed: pressed, Value: pressure}
}

func TestTrackerAxisDeadzone(t *testing.T) {
	tr, id := newTestTracker()

	ev, ok := tr.sample(id, axisSample(0, 0.9))
	require.True(t, ok)
	assert.Equal(t, EventAxisChanged, ev.Kind)
	assert.Equal(t, 0.9, ev.Value)

	// below deadzone, no event
	_, ok = tr.sample(id, axisSample(0, 0.91))
	assert.False(t, ok)
	_, ok = tr.sample(id, axisSample(0, 0.86))
	assert.False(t, ok)

	ev, ok = tr.sample(id, axisSample(0, 0.5))
	require.True(t, ok)
	assert.Equal(t, 0.5, ev.Value)
}

func TestTrackerAxisNoConsecutiveDuplicates(t *testing.T) {
	tr, id := newTestTracker()

	values := []float64{0.0, 0.9, 0.9, 0.91, 0.9, -0.3, -0.3, 1.5, 1.5, 0.2}
	var emitted []float64
	for _, v := range values {
		if ev, ok := tr.sample(id, axisSample(0, v)); ok {
			emitted = append(emitted, ev.Value)
		}
	}
	require.NotEmpty(t, emitted)
	for i := 1; i < len(emitted); i++ {
		assert.NotEqual(t, emitted[i-1], emitted[i])
	}
}

func TestTrackerAxisClamping(t *testing.T) {
	tr, id := newTestTracker()

	ev, ok := tr.sample(id, axisSample(1, 3.7))
	require.True(t, ok)
	assert.Equal(t, 1.0, ev.Value)

	// raw changed but clamped value did not
	_, ok = tr.sample(id, axisSample(1, 2.0))
	assert.False(t, ok)

	ev, ok = tr.sample(id, axisSample(1, -42))
	require.True(t, ok)
	assert.Equal(t, -1.0, ev.Value)
}

func TestTrackerButtonEdges(t *testing.T) {
	tr, id := newTestTracker()

	ev, ok := tr.sample(id, buttonSample(0, true, 1))
	require.True(t, ok)
	assert.Equal(t, EventButtonPressed, ev.Kind)
	assert.Equal(t, 0, ev.Index)

	// repeated press reports are suppressed
	_, ok = tr.sample(id, buttonSample(0, true, 1))
	assert.False(t, ok)

	ev, ok = tr.sample(id, buttonSample(0, false, 0))
	require.True(t, ok)
	assert.Equal(t, EventButtonReleased, ev.Kind)

	_, ok = tr.sample(id, buttonSample(0, false, 0))
	assert.False(t, ok)
}

func TestTrackerHybridButtonPressure(t *testing.T) {
	tr, id := newTestTracker()

	ev, ok := tr.sample(id, buttonSample(1, true, 0.4))
	require.True(t, ok)
	assert.Equal(t, EventButtonPressed, ev.Kind)
	assert.Equal(t, 0.4, ev.Value)

	// pressure-only change never produces an event of its own
	_, ok = tr.sample(id, buttonSample(1, true, 0.8))
	assert.False(t, ok)

	st := tr.devices[id]
	assert.Equal(t, 0.8, st.buttons[1].Pressure)

	ev, ok = tr.sample(id, buttonSample(1, false, 0))
	require.True(t, ok)
	assert.Equal(t, EventButtonReleased, ev.Kind)
}

func TestTrackerIgnoresUnknownTargets(t *testing.T) {
	tr, id := newTestTracker()

	_, ok := tr.sample(GamepadID(99), axisSample(0, 1))
	assert.False(t, ok)
	_, ok = tr.sample(id, axisSample(7, 1))
	assert.False(t, ok)
	_, ok = tr.sample(id, buttonSample(-1, true, 1))
	assert.False(t, ok)
}

func TestTrackerDetachDropsState(t *testing.T) {
	tr, id := newTestTracker()
	_, ok := tr.sample(id, axisSample(0, 0.9))
	require.True(t, ok)

	tr.detach(id)
	_, ok = tr.sample(id, axisSample(0, 0.2))
	assert.False(t, ok)
}
