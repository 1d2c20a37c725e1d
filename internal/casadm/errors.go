package casadm

import (
	"fmt"
	"strings"
)

// CmdError is a failed administration operation. It carries the full argument
// vector, the process exit code and the captured diagnostic text so partial
// failures can be reported without losing the underlying cause.
type CmdError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

// Error implements the error interface.
func (e *CmdError) Error() string {
	msg := fmt.Sprintf("casadm %s failed with exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying execution error, if any.
func (e *CmdError) Unwrap() error {
	return e.Err
}
