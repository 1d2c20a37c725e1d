// Package commands implements the casctl subcommands.
package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opencache-labs/casctl/internal/casadm"
	"github.com/opencache-labs/casctl/internal/cli/config"
	"github.com/opencache-labs/casctl/internal/conf"
	"github.com/opencache-labs/casctl/internal/engine"
)

// ExitError carries the process exit code a failed command resolved to.
// The lifecycle commands distinguish partial failures and cycles from plain
// errors, so the code cannot be derived from the error text alone.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCodeFor maps a command error to its process exit code.
func ExitCodeFor(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return engine.ExitFatal
}

// CommandContext bundles what every subcommand needs: the resolved tool
// settings, a logger, and the administration gateway.
type CommandContext struct {
	Config  *config.Config
	Logger  *slog.Logger
	Gateway casadm.Gateway
}

// newGateway builds the administration gateway. Overridable in tests.
var newGateway = func(cfg *config.Config, log *slog.Logger) casadm.Gateway {
	return casadm.NewCLI(casadm.NewRunner(cfg.CasadmPath), log)
}

// NewCommandContext assembles the command context from the cobra context
// populated by the root command.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	logger := config.GetLogger(cmd.Context())
	return &CommandContext{
		Config:  cfg,
		Logger:  logger,
		Gateway: newGateway(cfg, logger),
	}
}

// loadTopology reads the declared cache topology. Parse failures are fatal;
// they map to the generic error exit code before any device is touched.
func (c *CommandContext) loadTopology(allowIncomplete bool) (*conf.Config, error) {
	cfg, err := conf.Load(c.Config.ConfPath, allowIncomplete)
	if err != nil {
		return nil, &ExitError{Code: engine.ExitFatal, Err: err}
	}
	return cfg, nil
}

// finishRun renders the report diagnostics and maps the run outcome to an
// exit status.
func finishRun(cmd *cobra.Command, report *engine.Report, err error) error {
	if report != nil {
		report.Render(cmd.ErrOrStderr())
	}
	code := engine.StatusCode(report, err)
	if code == engine.ExitOK {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("%d operation(s) failed", len(report.Failures()))
	}
	return &ExitError{Code: code, Err: err}
}
