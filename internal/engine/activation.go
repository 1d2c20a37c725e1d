package engine

import (
	"context"
	"io"
	"log/slog"

	"github.com/opencache-labs/casctl/internal/casadm"
	"github.com/opencache-labs/casctl/internal/conf"
)

// coreKey identifies a declared core within one run.
type coreKey struct {
	cacheID uint16
	coreID  uint16
}

// coreState is the per-run resolution state of a core. The state maps are
// owned exclusively by one activation run and discarded with it; nothing is
// ever stored on the configuration records.
type coreState int

const (
	// coreUnvisited: not yet considered this run.
	coreUnvisited coreState = iota
	// coreVisiting: resolution in progress on the current chain; reaching it
	// again means the topology loops back on itself.
	coreVisiting
	// coreAdded: attach completed this run; further visits are no-ops.
	coreAdded
	// coreFailed: attach failed this run; recorded, dependents still try.
	coreFailed
)

// cacheState is the per-run state of a cache instance.
type cacheState int

const (
	cacheUnstarted cacheState = iota
	cacheStarting
	cacheStarted
	cacheFailed
)

// Options selects the activation policy for one run.
type Options struct {
	// StartCaches makes the run start and configure each owning cache on
	// demand before its cores attach. Without it caches are assumed running.
	StartCaches bool
	// Force is forwarded to cache starts.
	Force bool
	// TryAdd re-registers previously added cores instead of initializing.
	TryAdd bool
}

// Activator brings a declared topology into its running state in dependency
// order: a core whose backing device is exposed by another declared
// cache-core pair attaches only after that upstream pair is active, and a
// cache whose own device is stacked starts only after its upstream core.
// Every cache starts and every core attaches at most once per run.
type Activator struct {
	gw       casadm.Gateway
	resolver DependencyResolver
	log      *slog.Logger
}

// NewActivator creates an activation engine over the given gateway.
func NewActivator(gw casadm.Gateway, resolver DependencyResolver, log *slog.Logger) *Activator {
	if resolver == nil {
		resolver = ExportedDeviceResolver{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Activator{gw: gw, resolver: resolver, log: log}
}

// Run activates the whole topology. Individual start, configure and attach
// failures are recorded in the report and do not stop unrelated entries; the
// returned error is non-nil only for a cyclic topology, which aborts the run
// immediately because no safe order exists.
func (a *Activator) Run(ctx context.Context, cfg *conf.Config, report *Report, opts Options) error {
	run := &activation{
		a:      a,
		cfg:    cfg,
		report: report,
		opts:   opts,
		cores:  make(map[coreKey]coreState, len(cfg.Cores)),
		caches: make(map[uint16]cacheState, len(cfg.Caches)),
	}

	if opts.StartCaches {
		for _, id := range cfg.CacheIDs() {
			if err := run.ensureCache(ctx, id); err != nil {
				return err
			}
		}
	}

	for _, core := range cfg.Cores {
		if err := run.attachCore(ctx, core); err != nil {
			return err
		}
	}

	return nil
}

// activation is the mutable state of a single run.
type activation struct {
	a      *Activator
	cfg    *conf.Config
	report *Report
	opts   Options

	cores  map[coreKey]coreState
	caches map[uint16]cacheState
}

// ensureCache starts and configures the cache once per run, resolving the
// upstream core first when the cache device is itself a stacked device.
// Start and configure failures are recorded, not returned; only a cycle
// propagates.
func (r *activation) ensureCache(ctx context.Context, id uint16) error {
	if !r.opts.StartCaches {
		return nil
	}
	cache, declared := r.cfg.Caches[id]
	if !declared {
		// Permissively loaded cores may point at caches not described here;
		// the gateway arbitrates at attach time.
		return nil
	}

	switch r.caches[id] {
	case cacheStarted, cacheFailed:
		return nil
	case cacheStarting:
		return &CycleError{Device: cache.Device, CacheID: id}
	}
	r.caches[id] = cacheStarting

	if upstream, ok := r.upstreamCore(cache.Device); ok {
		if err := r.attachCore(ctx, upstream); err != nil {
			return err
		}
	}

	if err := r.a.gw.StartCache(ctx, cache, false, r.opts.Force); err != nil {
		r.caches[id] = cacheFailed
		r.report.Record(cache.Device, id, err)
		r.a.log.Error("failed to start cache",
			"run", r.report.RunID, "cache", id, "device", cache.Device, "error", err)
		return nil
	}
	r.caches[id] = cacheStarted

	if err := r.a.gw.ConfigureCache(ctx, cache); err != nil {
		r.report.Record(cache.Device, id, err)
		r.a.log.Error("failed to configure cache",
			"run", r.report.RunID, "cache", id, "device", cache.Device, "error", err)
	}

	return nil
}

// attachCore attaches one core after its owning cache and its upstream
// chain. An upstream failure is recorded but the attach is still attempted;
// the gateway is the final arbiter of whether it can succeed.
func (r *activation) attachCore(ctx context.Context, core *conf.Core) error {
	key := coreKey{core.CacheID, core.CoreID}
	switch r.cores[key] {
	case coreAdded, coreFailed:
		return nil
	case coreVisiting:
		return &CycleError{Device: core.Device, CacheID: core.CacheID}
	}
	r.cores[key] = coreVisiting

	if err := r.ensureCache(ctx, core.CacheID); err != nil {
		return err
	}
	if upstream, ok := r.upstreamCore(core.Device); ok {
		if err := r.attachCore(ctx, upstream); err != nil {
			return err
		}
	}

	if err := r.a.gw.AddCore(ctx, core.CacheID, core, r.opts.TryAdd); err != nil {
		r.cores[key] = coreFailed
		r.report.Record(core.Device, core.CacheID, err)
		r.a.log.Error("failed to add core",
			"run", r.report.RunID, "cache", core.CacheID, "core", core.CoreID,
			"device", core.Device, "error", err)
		return nil
	}

	r.cores[key] = coreAdded
	r.a.log.Debug("core added",
		"run", r.report.RunID, "cache", core.CacheID, "core", core.CoreID,
		"device", core.Device)
	return nil
}

// upstreamCore maps a device path to the declared core it is exported by.
// Paths matching the naming convention but not declared in this topology are
// treated as independent devices.
func (r *activation) upstreamCore(device string) (*conf.Core, bool) {
	cacheID, coreID, ok := r.a.resolver.Upstream(device)
	if !ok {
		return nil, false
	}
	return r.cfg.FindCore(cacheID, coreID)
}
