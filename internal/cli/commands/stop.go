package commands

import (
	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/engine"
)

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	var flush bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop all running caches",
		Long: `Stop every running cache instance. Without --flush, dirty data stays on
the cache devices and can be recovered with a later start; with --flush,
it is written back to the core devices first.`,
		Example: `  # Stop everything, keep dirty data on the cache devices
  casctl stop

  # Flush dirty data back to the cores before stopping
  casctl stop --flush`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)

			orch := engine.NewOrchestrator(cmdCtx.Gateway, nil, cmdCtx.Logger)
			if err := orch.Stop(cmd.Context(), flush); err != nil {
				return &ExitError{Code: engine.ExitFatal, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flush, "flush", false, "flush dirty data to core devices before stopping")

	return cmd
}
