package engine

import "fmt"

// CycleError reports a self-referential dependency chain among stacked core
// devices. It is fatal: no safe attachment order exists, so the run aborts
// immediately with its own exit code instead of being aggregated.
type CycleError struct {
	Device  string
	CacheID uint16
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic topology: core device %s of cache %d depends on itself", e.Device, e.CacheID)
}

// DirtyDeviceError reports that a target cache device already carries cache
// metadata with unflushed writes. Initializing over it would lose data, so
// the run aborts before any device is mutated.
type DirtyDeviceError struct {
	Device  string
	CacheID uint16
}

// Error implements the error interface.
func (e *DirtyDeviceError) Error() string {
	return fmt.Sprintf("device %s for cache %d is a dirty cache; flush or use --force", e.Device, e.CacheID)
}
