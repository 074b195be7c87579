package padsvc

import (
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGamepadIDString(t *testing.T) {
	assert.Equal(t, "pad0", GamepadID(0).String())
	assert.Equal(t, "pad42", GamepadID(42).String())
}

func TestGamepadYAMLUsesReadableID(t *testing.T) {
	pad := Gamepad{
		ID:     3,
		Name:   "virtual pad",
		Status: StatusConnected,
		Axes:   []AxisState{{Value: 0.5, Deadzone: 0.05}},
	}
	out, err := yaml.Marshal(pad)
	require.NoError(t, err)
	assert.Contains(t, string(out), "id: pad3")
	assert.Contains(t, string(out), "name: virtual pad")
}
