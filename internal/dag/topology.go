package dag

import (
	"fmt"

	"github.com/opencache-labs/casctl/internal/conf"
)

// CacheNodeID returns the graph node identifier for a cache instance.
func CacheNodeID(id uint16) string {
	return fmt.Sprintf("cache %d", id)
}

// Resolver mirrors the activation engine's dependency-resolution strategy:
// it maps a device path to the cache-core pair exporting it, if any.
type Resolver interface {
	Upstream(device string) (cacheID, coreID uint16, ok bool)
}

// BuildTopology converts a declared configuration into a dependency graph.
// Core nodes are keyed by their exported device path, cache nodes by
// CacheNodeID. Edges point from dependency to dependent: a core depends on
// its owning cache, and any entity whose device is exported by a declared
// pair depends on that pair's core node.
func BuildTopology(cfg *conf.Config, resolver Resolver) (*Graph, error) {
	g := NewGraph()

	for _, id := range cfg.CacheIDs() {
		g.AddNode(CacheNodeID(id), cfg.Caches[id])
	}
	for _, core := range cfg.Cores {
		g.AddNode(core.ExportedDevice(), core)
	}

	for _, core := range cfg.Cores {
		if _, declared := cfg.Caches[core.CacheID]; declared {
			if err := g.AddEdge(CacheNodeID(core.CacheID), core.ExportedDevice()); err != nil {
				return nil, err
			}
		}
		if upstream, ok := upstreamNode(cfg, resolver, core.Device); ok {
			if err := g.AddEdge(upstream, core.ExportedDevice()); err != nil {
				return nil, err
			}
		}
	}

	for _, id := range cfg.CacheIDs() {
		cache := cfg.Caches[id]
		if upstream, ok := upstreamNode(cfg, resolver, cache.Device); ok {
			if err := g.AddEdge(upstream, CacheNodeID(id)); err != nil {
				return nil, err
			}
		}
	}

	return g, nil
}

// upstreamNode resolves a device path to the node ID of the declared core
// exporting it.
func upstreamNode(cfg *conf.Config, resolver Resolver, device string) (string, bool) {
	cacheID, coreID, ok := resolver.Upstream(device)
	if !ok {
		return "", false
	}
	upstream, declared := cfg.FindCore(cacheID, coreID)
	if !declared {
		return "", false
	}
	return upstream.ExportedDevice(), true
}
