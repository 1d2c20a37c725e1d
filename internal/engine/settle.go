package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opencache-labs/casctl/internal/conf"
)

// Settler waits for the exported devices of a configured topology to appear,
// the way the boot-time service unit blocks until the topology has converged.
type Settler struct {
	// WatchDir is the directory where exported devices appear.
	WatchDir string
	// Probe reports whether a device path exists. Overridable in tests.
	Probe func(path string) bool
	// Log receives progress events.
	Log *slog.Logger
}

// NewSettler creates a settler watching /dev.
func NewSettler(log *slog.Logger) *Settler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Settler{
		WatchDir: "/dev",
		Probe: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		Log: log,
	}
}

// Wait blocks until every non-lazy core in cfg is exported, the timeout
// lapses, or ctx is canceled. It returns the exported device paths still
// missing; an empty slice means the topology settled.
//
// Device appearance is driven by directory notifications with a periodic
// re-check on interval, so a missed event cannot stall the wait.
func (s *Settler) Wait(ctx context.Context, cfg *conf.Config, timeout, interval time.Duration) ([]string, error) {
	pending := make(map[string]bool)
	for _, core := range cfg.Cores {
		if core.Params.LazyStartup {
			continue
		}
		pending[core.ExportedDevice()] = true
	}

	recheck := func() {
		for device := range pending {
			if s.Probe(device) {
				s.Log.Debug("device settled", "device", device)
				delete(pending, device)
			}
		}
	}

	recheck()
	if len(pending) == 0 {
		return nil, nil
	}

	var (
		events    chan fsnotify.Event
		watchErrs chan error
	)
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if err := watcher.Add(s.WatchDir); err == nil {
			events = watcher.Events
			watchErrs = watcher.Errors
		} else {
			s.Log.Warn("falling back to polling", "dir", s.WatchDir, "error", err)
		}
	} else {
		s.Log.Warn("falling back to polling", "error", err)
	}

	return s.awaitPending(ctx, pending, recheck, timeout, interval, events, watchErrs)
}

// awaitPending is the wait loop behind Wait, split out so tests can drive the
// notification channels directly. The error channel must be drained: fsnotify
// stops delivering events while an error send is blocked.
func (s *Settler) awaitPending(ctx context.Context, pending map[string]bool, recheck func(),
	timeout, interval time.Duration, events <-chan fsnotify.Event, watchErrs <-chan error) ([]string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return missingDevices(pending), ctx.Err()
		case <-deadline.C:
			return missingDevices(pending), nil
		case <-ticker.C:
			recheck()
		case event := <-events:
			if event.Op.Has(fsnotify.Create) {
				recheck()
			}
		case err := <-watchErrs:
			s.Log.Warn("watch error", "error", err)
		}

		if len(pending) == 0 {
			return nil, nil
		}
	}
}

func missingDevices(pending map[string]bool) []string {
	missing := make([]string, 0, len(pending))
	for device := range pending {
		missing = append(missing, device)
	}
	sort.Strings(missing)
	return missing
}
