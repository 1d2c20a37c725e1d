// Package casadm drives the cache engine's administration binary. It exposes
// a Gateway interface consumed by the lifecycle commands and the activation
// engine; every operation shells out to casadm and reports failures as a
// CmdError carrying the exit code and the diagnostic text.
package casadm

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// DefaultBinary is the administration binary resolved from PATH when no
// explicit path is configured.
const DefaultBinary = "casadm"

// Output is the captured result of one administration command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes the administration binary. It exists so tests and
// alternate transports can stand in for the real process execution.
type Runner interface {
	Run(ctx context.Context, args ...string) (*Output, error)
}

// execRunner runs the administration binary via os/exec.
type execRunner struct {
	binary string
}

// NewRunner returns a Runner invoking the given binary. An empty binary path
// falls back to DefaultBinary.
func NewRunner(binary string) Runner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &execRunner{binary: binary}
}

// Run executes the binary and captures its output. A non-zero exit is not an
// error at this layer; the caller decides based on Output.ExitCode. The
// returned error covers only failures to run the process at all.
func (r *execRunner) Run(ctx context.Context, args ...string) (*Output, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, err
	}

	return out, nil
}
