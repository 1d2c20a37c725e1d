// Package engine orders and drives cache activation. It owns the
// dependency-ordered core attachment walk, the run report that aggregates
// partial failures, and the lifecycle policies built on top of the
// administration gateway.
package engine

import (
	"regexp"
	"strconv"
)

// DependencyResolver discovers whether a core's backing device is itself
// exposed by another cache-core pair in the same topology. It is a pluggable
// strategy so alternate topology-declaration schemes can replace the
// device-path convention without touching the ordering walk.
type DependencyResolver interface {
	// Upstream returns the cache and core identifiers encoded in the device
	// path, or ok=false when the device has no upstream dependency.
	Upstream(device string) (cacheID, coreID uint16, ok bool)
}

// exportedDevicePattern matches devices exposed by a running cache-core
// pair, e.g. /dev/cas1-2 or /dev/cas1-2p3.
var exportedDevicePattern = regexp.MustCompile(`^/dev/cas(\d+)-(\d+)`)

// ExportedDeviceResolver resolves stacked dependencies from the
// /dev/cas<cache>-<core> naming convention.
type ExportedDeviceResolver struct{}

// Upstream implements DependencyResolver.
func (ExportedDeviceResolver) Upstream(device string) (uint16, uint16, bool) {
	m := exportedDevicePattern.FindStringSubmatch(device)
	if m == nil {
		return 0, 0, false
	}

	cacheID, err := strconv.ParseUint(m[1], 10, 16)
	if err != nil {
		return 0, 0, false
	}
	coreID, err := strconv.ParseUint(m[2], 10, 16)
	if err != nil {
		return 0, 0, false
	}

	return uint16(cacheID), uint16(coreID), true
}
