package commands

import (
	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/engine"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize all caches declared in the topology file",
		Long: `Initialize every cache instance declared in opencas.conf and attach its
cores, in dependency order. A device already carrying unflushed cache
metadata aborts the run before anything is touched unless --force is given.

Exit status: 0 on success, 1 on a configuration or guard error, 2 when one
or more devices failed to come up, 3 when the topology is cyclic.`,
		Example: `  # First-time setup of the declared topology
  casctl init

  # Reinitialize, discarding any existing metadata
  casctl init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			topology, err := cmdCtx.loadTopology(false)
			if err != nil {
				return err
			}

			orch := engine.NewOrchestrator(cmdCtx.Gateway, nil, cmdCtx.Logger)
			report, runErr := orch.Init(cmd.Context(), topology, force)
			return finishRun(cmd, report, runErr)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the dirty-device guard and reinitialize")

	return cmd
}
