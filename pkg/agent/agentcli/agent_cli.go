// Package agentcli exposes the padmux agent as a command line tool.
package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/iancoleman/strcase"
	"github.com/padmux/padmux/internal/padsvc"
	"github.com/padmux/padmux/pkg/agent"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "padmux"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.DefaultConfig()
	cfg.DataDir = filepath.Join(configDir, "data")
	cfg.TuningConfig = filepath.Join(configDir, "tuning.yml")

	rootCmd := &cobra.Command{
		Use:   "padmux",
		Short: "Unified gamepad input service",
		Long:  `padmux reads game controller input through one platform-independent event model.`,
	}
	var a *agent.Agent
	provider := func() *agent.Agent {
		return a
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.TuningConfig, "tuning-config", cfg.TuningConfig, "tuning config file")
	rootCmd.PersistentFlags().IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "event queue capacity")
	rootCmd.PersistentFlags().DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "how long disconnected pads stay queryable")
	rootCmd.PersistentFlags().DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "re-enumeration interval for polling backends")
	rootCmd.PersistentFlags().Float64Var(&cfg.Deadzone, "deadzone", cfg.Deadzone, "default axis deadzone")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	rootCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}
	rootCmd.AddCommand(NewWatch(provider))
	rootCmd.AddCommand(NewListGamepads(provider))
	rootCmd.AddCommand(NewListKnown(provider))
	rootCmd.AddCommand(NewSimulate())
	return rootCmd
}

type eventJSON struct {
	Kind    string  `json:"kind"`
	Gamepad string  `json:"gamepad"`
	Index   int     `json:"index"`
	Value   float64 `json:"value"`
	Drops   uint64  `json:"drops,omitempty"`
	Seq     uint64  `json:"seq"`
	Time    string  `json:"time"`
}

func formatEvent(ev padsvc.Event) eventJSON {
	return eventJSON{
		Kind:    strcase.ToSnake(ev.Kind.String()),
		Gamepad: ev.Gamepad.String(),
		Index:   ev.Index,
		Value:   ev.Value,
		Drops:   ev.Drops,
		Seq:     ev.Seq,
		Time:    ev.Time.Format(time.RFC3339Nano),
	}
}

// NewWatch runs the agent and streams events to stdout as JSON lines.
func NewWatch(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream gamepad events",
		Long:  `Run the agent and print every gamepad event as a JSON line until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return agent().Run(groupCtx)
			})
			group.Go(func() error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				pads := agent().Pads()
				select {
				case <-groupCtx.Done():
					return nil
				case <-pads.Ready():
				}
				for groupCtx.Err() == nil {
					for _, ev := range pads.Wait(groupCtx, time.Second) {
						if err := enc.Encode(formatEvent(ev)); err != nil {
							return err
						}
					}
				}
				return nil
			})
			return group.Wait()
		},
	}
}

func renderList(cmd *cobra.Command, v any, asYAML bool) error {
	if asYAML {
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	}
	jsonB, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
	return nil
}

// NewListGamepads enumerates the currently attached devices once.
func NewListGamepads(agent agentProvider) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "list-gamepads",
		Short: "List attached gamepads",
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := agent().Backend().Enumerate()
			if err != nil {
				return err
			}
			return renderList(cmd, descs, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	return cmd
}

// NewListKnown prints the catalog of every device the agent has ever seen.
func NewListKnown(agent agentProvider) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "list-known",
		Short: "List known gamepads",
		Long:  `List every gamepad this agent has ever seen, with first and last seen timestamps.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := agent().Catalog()
			if err != nil {
				return err
			}
			return renderList(cmd, entries, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	return cmd
}
