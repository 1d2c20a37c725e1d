package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Process exit codes communicated by the lifecycle commands.
const (
	// ExitOK means the whole topology converged.
	ExitOK = 0
	// ExitFatal means a configuration parse error or the dirty-device guard
	// aborted the run before it could complete.
	ExitFatal = 1
	// ExitPartial means the run completed but one or more cache or core
	// operations failed.
	ExitPartial = 2
	// ExitCycle means a cyclic topology was detected and the run aborted.
	ExitCycle = 3
)

// Failure is one recorded cache or core operation failure.
type Failure struct {
	Device  string
	CacheID uint16
	Err     string
}

// Report aggregates the partial failures of a single run. It is owned by one
// lifecycle command invocation and never shared across runs.
type Report struct {
	// RunID identifies the run in log output.
	RunID string

	failures []Failure
}

// NewReport creates an empty report with a fresh run identifier.
func NewReport() *Report {
	return &Report{RunID: uuid.NewString()}
}

// Record adds a failure for the given device. Nothing is ever dropped; the
// diagnostic stream is the only user-visible account of partial failures.
func (r *Report) Record(device string, cacheID uint16, err error) {
	r.failures = append(r.failures, Failure{
		Device:  device,
		CacheID: cacheID,
		Err:     err.Error(),
	})
}

// Failures returns the recorded failures in the order they occurred.
func (r *Report) Failures() []Failure {
	return r.failures
}

// Failed reports whether any operation failed during the run.
func (r *Report) Failed() bool {
	return len(r.failures) > 0
}

// Render writes one diagnostic line per failure.
func (r *Report) Render(w io.Writer) {
	for _, f := range r.failures {
		fmt.Fprintf(w, "cache %d: device %s: %s\n", f.CacheID, f.Device, f.Err)
	}
}

// StatusCode maps a run outcome to its process exit code. A cycle keeps its
// distinguished code and never merges with the partial-failure status.
func StatusCode(r *Report, err error) int {
	var cycleErr *CycleError
	switch {
	case errors.As(err, &cycleErr):
		return ExitCycle
	case err != nil:
		return ExitFatal
	case r != nil && r.Failed():
		return ExitPartial
	default:
		return ExitOK
	}
}
