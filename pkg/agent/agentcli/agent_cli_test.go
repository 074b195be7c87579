package agentcli

import (
	"bytes"
	"testing"

	"github.com/padmux/padmux/internal/padsvc"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simulate drives uhid directly and must not inherit the root command's agent
// construction, or it would fight a running watch over the data directory.
func TestSimulateSkipsAgentConstruction(t *testing.T) {
	root := NewRootCmd(t.TempDir())
	sim, _, err := root.Find([]string{"simulate"})
	require.NoError(t, err)
	require.Equal(t, "simulate", sim.Name())
	require.NotNil(t, sim.PersistentPreRunE)
	require.NoError(t, sim.PersistentPreRunE(sim, nil))
}

func TestRenderList(t *testing.T) {
	descs := []padsvc.DeviceDescriptor{{
		VendorID:  0x054c,
		ProductID: 0x09cc,
		Name:      "virtual pad",
		Axes:      1,
		Buttons:   2,
	}}

	t.Run("json", func(t *testing.T) {
		cmd := &cobra.Command{}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		require.NoError(t, renderList(cmd, descs, false))
		assert.Contains(t, buf.String(), `"name": "virtual pad"`)
	})

	t.Run("yaml", func(t *testing.T) {
		cmd := &cobra.Command{}
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		require.NoError(t, renderList(cmd, descs, true))
		assert.Contains(t, buf.String(), "name: virtual pad")
	})
}
