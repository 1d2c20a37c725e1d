package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/opencache-labs/casctl/internal/casadm"
	"github.com/opencache-labs/casctl/internal/conf"
)

// Orchestrator implements the lifecycle policies over the activation engine
// and the administration gateway. Execution is strictly serial: every
// gateway call blocks until the underlying operation completes.
type Orchestrator struct {
	gw       casadm.Gateway
	resolver DependencyResolver
	log      *slog.Logger
}

// NewOrchestrator creates an orchestrator over the given gateway.
func NewOrchestrator(gw casadm.Gateway, resolver DependencyResolver, log *slog.Logger) *Orchestrator {
	if resolver == nil {
		resolver = ExportedDeviceResolver{}
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{gw: gw, resolver: resolver, log: log}
}

// Init performs first-time setup of the whole topology: dirty-device guard,
// then dependency-ordered cache starts, parameter configuration and core
// attachment. Individual failures are aggregated in the report; the returned
// error is non-nil only for the fatal classes (guard trip, cycle, or an
// unanswerable status query).
func (o *Orchestrator) Init(ctx context.Context, cfg *conf.Config, force bool) (*Report, error) {
	report := NewReport()
	o.log.Info("initializing topology",
		"run", report.RunID, "caches", len(cfg.Caches), "cores", len(cfg.Cores), "force", force)

	// Never reinitialize over unflushed data. The guard runs before any
	// device is mutated so a trip leaves the system untouched.
	if !force {
		for _, id := range cfg.CacheIDs() {
			cache := cfg.Caches[id]
			status, err := o.gw.CheckDevice(ctx, cache.Device)
			if err != nil {
				return report, fmt.Errorf("checking device %s for cache %d: %w", cache.Device, cache.ID, err)
			}
			if status.IsCache && status.Dirty {
				return report, &DirtyDeviceError{Device: cache.Device, CacheID: cache.ID}
			}
		}
	}

	activator := NewActivator(o.gw, o.resolver, o.log)
	if err := activator.Run(ctx, cfg, report, Options{StartCaches: true, Force: force}); err != nil {
		return report, err
	}

	return report, nil
}

// Start re-attaches a previously initialized topology, loading existing
// cache metadata. It is best-effort: every cache is attempted, failures are
// recorded and the command never aborts early. There is no dirty-data guard;
// existing metadata is expected here.
func (o *Orchestrator) Start(ctx context.Context, cfg *conf.Config) *Report {
	report := NewReport()
	o.log.Info("starting topology from existing metadata",
		"run", report.RunID, "caches", len(cfg.Caches))

	for _, id := range cfg.CacheIDs() {
		cache := cfg.Caches[id]
		if err := o.gw.StartCache(ctx, cache, true, false); err != nil {
			report.Record(cache.Device, cache.ID, err)
			o.log.Error("failed to load cache",
				"run", report.RunID, "cache", cache.ID, "device", cache.Device, "error", err)
		}
	}

	return report
}

// Stop detaches all cores and stops all running caches. With flush set,
// dirty data is written back to the core devices before detachment.
func (o *Orchestrator) Stop(ctx context.Context, flush bool) error {
	o.log.Info("stopping all caches", "flush", flush)
	return o.gw.StopAll(ctx, flush)
}
