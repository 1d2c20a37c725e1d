package casadm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/opencache-labs/casctl/internal/conf"
)

// DeviceStatus is the result of probing a device for existing cache metadata.
type DeviceStatus struct {
	// IsCache reports whether the device already carries cache metadata.
	IsCache bool
	// Dirty reports whether the device holds unflushed writes.
	Dirty bool
}

// ListedCache is one running cache instance reported by the engine.
type ListedCache struct {
	ID     uint16
	Device string
	Status string
}

// Gateway is the synchronous administration interface the lifecycle commands
// and the activation engine drive. Every operation blocks until the
// underlying command completes and fails with a *CmdError.
type Gateway interface {
	// CheckDevice probes a device for existing cache metadata.
	CheckDevice(ctx context.Context, device string) (DeviceStatus, error)
	// StartCache starts a cache instance, optionally loading existing
	// metadata instead of initializing fresh.
	StartCache(ctx context.Context, cache *conf.Cache, load, force bool) error
	// ConfigureCache applies the cache-level parameters after start.
	ConfigureCache(ctx context.Context, cache *conf.Cache) error
	// AddCore attaches a core device to a running cache.
	AddCore(ctx context.Context, cacheID uint16, core *conf.Core, tryAdd bool) error
	// ListCaches reports the currently running cache instances.
	ListCaches(ctx context.Context) ([]ListedCache, error)
	// StopCache stops one cache, flushing dirty data first when flush is set.
	StopCache(ctx context.Context, cacheID uint16, flush bool) error
	// StopAll stops every running cache, aggregating per-cache failures.
	StopAll(ctx context.Context, flush bool) error
}

// CLI is the Gateway implementation over the casadm binary.
type CLI struct {
	runner Runner
	log    *slog.Logger
}

// NewCLI creates a Gateway backed by the given runner.
func NewCLI(runner Runner, log *slog.Logger) *CLI {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CLI{runner: runner, log: log}
}

// run executes one administration command and converts a non-zero exit into
// a *CmdError.
func (c *CLI) run(ctx context.Context, args ...string) (*Output, error) {
	c.log.Debug("running casadm", "args", args)

	out, err := c.runner.Run(ctx, args...)
	if err != nil {
		return nil, &CmdError{Args: args, ExitCode: -1, Err: err}
	}
	if out.ExitCode != 0 {
		return nil, &CmdError{Args: args, ExitCode: out.ExitCode, Stderr: out.Stderr}
	}
	return out, nil
}

// CheckDevice probes the device with --check-cache-device.
func (c *CLI) CheckDevice(ctx context.Context, device string) (DeviceStatus, error) {
	out, err := c.run(ctx,
		"--check-cache-device",
		"--cache-device", device,
		"--output-format", "csv",
	)
	if err != nil {
		return DeviceStatus{}, err
	}
	return parseDeviceStatus(out.Stdout)
}

// StartCache starts the cache instance described by the record.
func (c *CLI) StartCache(ctx context.Context, cache *conf.Cache, load, force bool) error {
	args := []string{
		"--start-cache",
		"--cache-device", cache.Device,
		"--cache-id", strconv.Itoa(int(cache.ID)),
	}
	if load {
		args = append(args, "--load")
	} else {
		if cache.Mode != "" {
			args = append(args, "--cache-mode", string(cache.Mode))
		}
		if cache.Params.LineSize != 0 {
			args = append(args, "--cache-line-size", strconv.Itoa(cache.Params.LineSize))
		}
	}
	if force {
		args = append(args, "--force")
	}

	_, err := c.run(ctx, args...)
	return err
}

// ConfigureCache applies the configured parameters to a running cache. The
// first failing parameter stops the sequence; the caller records it and
// moves on to the next cache.
func (c *CLI) ConfigureCache(ctx context.Context, cache *conf.Cache) error {
	id := strconv.Itoa(int(cache.ID))

	if p := cache.Params.CleaningPolicy; p != "" {
		if _, err := c.run(ctx, "--set-param", "--name", "cleaning", "--cache-id", id, "--policy", p); err != nil {
			return err
		}
	}
	if p := cache.Params.PromotionPolicy; p != "" {
		if _, err := c.run(ctx, "--set-param", "--name", "promotion", "--cache-id", id, "--policy", p); err != nil {
			return err
		}
	}
	if f := cache.Params.IOClassFile; f != "" {
		if _, err := c.run(ctx, "--load-io-class", "--cache-id", id, "--file", f); err != nil {
			return err
		}
	}

	return nil
}

// AddCore attaches the core device to its cache. With tryAdd the engine only
// re-registers a previously added core instead of initializing it.
func (c *CLI) AddCore(ctx context.Context, cacheID uint16, core *conf.Core, tryAdd bool) error {
	args := []string{
		"--add-core",
		"--cache-id", strconv.Itoa(int(cacheID)),
		"--core-id", strconv.Itoa(int(core.CoreID)),
		"--core-device", core.Device,
	}
	if tryAdd {
		args = append(args, "--try-add")
	}

	_, err := c.run(ctx, args...)
	return err
}

// ListCaches reports the running cache instances from --list-caches.
func (c *CLI) ListCaches(ctx context.Context) ([]ListedCache, error) {
	out, err := c.run(ctx, "--list-caches", "--output-format", "csv")
	if err != nil {
		return nil, err
	}
	return parseListedCaches(out.Stdout)
}

// StopCache stops a single cache instance.
func (c *CLI) StopCache(ctx context.Context, cacheID uint16, flush bool) error {
	args := []string{"--stop-cache", "--cache-id", strconv.Itoa(int(cacheID))}
	if !flush {
		args = append(args, "--no-data-flush")
	}

	_, err := c.run(ctx, args...)
	return err
}

// StopAll stops every running cache. Failures are collected so one stuck
// cache does not leave the remaining ones running.
func (c *CLI) StopAll(ctx context.Context, flush bool) error {
	caches, err := c.ListCaches(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, cache := range caches {
		if err := c.StopCache(ctx, cache.ID, flush); err != nil {
			c.log.Error("failed to stop cache", "cache", cache.ID, "device", cache.Device, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stopping cache %d: %w", cache.ID, err)
			}
		}
	}
	return firstErr
}
