//go:build linux

package agentcli

import (
	"fmt"
	"time"

	"github.com/padmux/padmux/internal/padsvc/virtual"
	"github.com/spf13/cobra"
)

// NewSimulate creates a kernel-visible virtual gamepad through uhid and plays
// a scripted press/release and axis sweep, so the real backend path can be
// exercised without hardware.
func NewSimulate() *cobra.Command {
	var (
		name     string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a virtual gamepad",
		Long:  `Create a virtual gamepad via uhid and feed it a scripted input sequence. Requires access to /dev/uhid.`,
		// Talks to uhid directly; must not build the agent, which would take
		// the data directory lock held by a concurrently running watch.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pad, err := virtual.NewKernelPad(name, 0xdead, 0xbeef)
			if err != nil {
				return fmt.Errorf("failed to create virtual pad: %w", err)
			}
			defer pad.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "virtual pad %q running for %s\n", name, duration)

			ctx := cmd.Context()
			deadline := time.Now().Add(duration)
			tick := time.NewTicker(100 * time.Millisecond)
			defer tick.Stop()
			step := 0
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return nil
				case <-tick.C:
				}
				button := step % 8
				if err := pad.SetButton(button, step%2 == 0); err != nil {
					return err
				}
				if err := pad.SetAxis(0, float64(step%21-10)/10); err != nil {
					return err
				}
				step++
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "padmux-virtual", "device name")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "how long to run")
	return cmd
}
