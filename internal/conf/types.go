// Package conf provides the in-memory model of the cache topology file.
// It parses the opencas.conf line format into cache and core records that
// the lifecycle commands and the activation engine consume.
package conf

import (
	"fmt"
	"sort"
)

// CacheMode is the caching policy a cache instance runs with.
type CacheMode string

// Cache modes accepted by the administration interface.
const (
	ModeWriteThrough CacheMode = "WT"
	ModeWriteBack    CacheMode = "WB"
	ModeWriteAround  CacheMode = "WA"
	ModePassThrough  CacheMode = "PT"
	ModeWriteOnly    CacheMode = "WO"
)

// ValidMode reports whether m is a mode the administration interface accepts.
func ValidMode(m CacheMode) bool {
	switch m {
	case ModeWriteThrough, ModeWriteBack, ModeWriteAround, ModePassThrough, ModeWriteOnly:
		return true
	}
	return false
}

// CacheParams holds the optional per-cache parameters from the options
// column. Keys not recognized here are preserved in Extra and passed through
// to the administration interface untouched.
type CacheParams struct {
	// LineSize is the cache line size in KiB (4, 8, 16, 32 or 64).
	LineSize int `mapstructure:"cache_line_size"`
	// CleaningPolicy selects the dirty-data cleaning policy (alru, acp, nop).
	CleaningPolicy string `mapstructure:"cleaning_policy"`
	// PromotionPolicy selects the promotion policy (always, nhit).
	PromotionPolicy string `mapstructure:"promotion_policy"`
	// IOClassFile is a path to an IO classification config applied after start.
	IOClassFile string `mapstructure:"ioclass_file"`
	// LazyStartup marks the cache as allowed to be missing at settle time.
	LazyStartup bool `mapstructure:"lazy_startup"`

	Extra map[string]string `mapstructure:",remain"`
}

// Cache is one declared cache instance.
type Cache struct {
	ID     uint16
	Device string
	Mode   CacheMode
	Params CacheParams

	// Complete is false when the record was loaded permissively and is
	// missing fields required to start the cache from scratch.
	Complete bool
}

// CoreParams holds the optional per-core parameters.
type CoreParams struct {
	LazyStartup bool `mapstructure:"lazy_startup"`

	Extra map[string]string `mapstructure:",remain"`
}

// Core is one declared core (backing) device attached to a cache.
type Core struct {
	CacheID uint16
	CoreID  uint16
	Device  string
	Params  CoreParams
}

// ExportedDevice returns the path under which this core is exposed once
// attached, following the /dev/cas<cache>-<core> naming convention.
func (c *Core) ExportedDevice() string {
	return fmt.Sprintf("/dev/cas%d-%d", c.CacheID, c.CoreID)
}

// Config is the parsed topology: caches keyed by ID plus the declared cores.
// It is read-only after Load; run-scoped attach state lives in the engine.
type Config struct {
	Version string
	Caches  map[uint16]*Cache
	Cores   []*Core
}

// CacheIDs returns the declared cache identifiers in ascending order.
func (c *Config) CacheIDs() []uint16 {
	ids := make([]uint16, 0, len(c.Caches))
	for id := range c.Caches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FindCore returns the declared core with the given cache and core IDs.
func (c *Config) FindCore(cacheID, coreID uint16) (*Core, bool) {
	for _, core := range c.Cores {
		if core.CacheID == cacheID && core.CoreID == coreID {
			return core, true
		}
	}
	return nil, false
}
