//go:build !linux

package agentcli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSimulate() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a virtual gamepad",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("simulate requires Linux (uhid)")
		},
	}
}
