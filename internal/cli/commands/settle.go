package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/engine"
)

// NewSettleCommand creates the settle command.
func NewSettleCommand() *cobra.Command {
	var (
		timeout  time.Duration
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Wait until all exported devices appear",
		Long: `Block until every exported device of the declared topology exists under
/dev, or the timeout lapses. Cores marked lazy_startup are not awaited.
Meant for boot-time ordering: services depending on cached devices can
wait on this command instead of polling themselves.`,
		Example: `  # Wait up to five minutes for the topology to come up
  casctl settle --timeout 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			topology, err := cmdCtx.loadTopology(true)
			if err != nil {
				return err
			}

			settler := engine.NewSettler(cmdCtx.Logger)
			missing, err := settler.Wait(cmd.Context(), topology, timeout, interval)
			if err != nil {
				return &ExitError{Code: engine.ExitFatal, Err: err}
			}
			if len(missing) > 0 {
				for _, device := range missing {
					fmt.Fprintf(cmd.ErrOrStderr(), "device %s did not appear\n", device)
				}
				return &ExitError{
					Code: engine.ExitPartial,
					Err:  fmt.Errorf("%d device(s) missing after %s", len(missing), timeout),
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait before giving up")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval backing the inotify watch")

	return cmd
}
