package commands

import (
	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/engine"
)

// NewStartCommand creates the start command.
func NewStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start all caches from existing metadata",
		Long: `Load every cache instance declared in opencas.conf from the metadata
already present on its device. Core attachments are restored by the engine
itself, so only the caches are touched. Every cache is attempted; failures
are reported at the end.

Exit status: 0 on success, 1 on a configuration error, 2 when one or more
caches failed to load.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			topology, err := cmdCtx.loadTopology(true)
			if err != nil {
				return err
			}

			orch := engine.NewOrchestrator(cmdCtx.Gateway, nil, cmdCtx.Logger)
			report := orch.Start(cmd.Context(), topology)
			return finishRun(cmd, report, nil)
		},
	}

	return cmd
}
