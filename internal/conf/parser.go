package conf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ParseError describes a malformed or inconsistent topology file. It is
// fatal: no device operation may run against a config that failed to load.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

type section int

const (
	sectionNone section = iota
	sectionCaches
	sectionCores
)

// Load reads and parses the topology file at path.
//
// With allowIncomplete set, cache rows may omit the mode and options columns;
// such records are kept with Complete=false and cores may reference caches
// that are not fully specified. In strict mode every cache row must carry a
// mode and every core must reference a declared cache.
func Load(path string, allowIncomplete bool) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Msg: err.Error()}
	}
	defer f.Close()

	cfg := &Config{
		Caches: make(map[uint16]*Cache),
	}

	sect := sectionNone
	lineNo := 0
	coreKeys := make(map[string]bool)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.EqualFold(line, "[caches]"):
			sect = sectionCaches
			continue
		case strings.EqualFold(line, "[cores]"):
			sect = sectionCores
			continue
		case strings.HasPrefix(line, "["):
			return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("unknown section %s", line)}
		}

		if sect == sectionNone {
			if k, v, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) == "version" {
				cfg.Version = strings.TrimSpace(v)
				continue
			}
			return nil, &ParseError{Path: path, Line: lineNo, Msg: "statement outside of a section"}
		}

		fields := strings.Fields(line)
		switch sect {
		case sectionCaches:
			cache, err := parseCacheRow(fields, allowIncomplete)
			if err != nil {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: err.Error()}
			}
			if _, dup := cfg.Caches[cache.ID]; dup {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("duplicate cache id %d", cache.ID)}
			}
			cfg.Caches[cache.ID] = cache

		case sectionCores:
			core, err := parseCoreRow(fields)
			if err != nil {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: err.Error()}
			}
			key := fmt.Sprintf("%d-%d", core.CacheID, core.CoreID)
			if coreKeys[key] {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("duplicate core %d for cache %d", core.CoreID, core.CacheID)}
			}
			coreKeys[key] = true
			if _, ok := cfg.Caches[core.CacheID]; !ok && !allowIncomplete {
				return nil, &ParseError{Path: path, Line: lineNo, Msg: fmt.Sprintf("core device %s references undeclared cache %d", core.Device, core.CacheID)}
			}
			cfg.Cores = append(cfg.Cores, core)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ParseError{Path: path, Msg: err.Error()}
	}

	return cfg, nil
}

// parseCacheRow parses `<id> <device> <mode> [opts]`.
func parseCacheRow(fields []string, allowIncomplete bool) (*Cache, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("cache row needs at least an id and a device")
	}

	id, err := parseID(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cache id %q: %w", fields[0], err)
	}
	device := fields[1]
	if !filepath.IsAbs(device) {
		return nil, fmt.Errorf("cache device %q is not an absolute path", device)
	}

	cache := &Cache{ID: id, Device: device, Complete: true}

	if len(fields) < 3 {
		if !allowIncomplete {
			return nil, fmt.Errorf("cache %d is missing a cache mode", id)
		}
		cache.Complete = false
		return cache, nil
	}

	cache.Mode = CacheMode(strings.ToUpper(fields[2]))
	if !ValidMode(cache.Mode) {
		return nil, fmt.Errorf("cache %d has unknown cache mode %q", id, fields[2])
	}

	if len(fields) > 3 {
		params, err := decodeCacheParams(fields[3])
		if err != nil {
			return nil, fmt.Errorf("cache %d options: %w", id, err)
		}
		cache.Params = params
	}

	return cache, nil
}

// parseCoreRow parses `<cache id> <core id> <device> [opts]`.
func parseCoreRow(fields []string) (*Core, error) {
	if len(fields) < 3 {
		return nil, fmt.Errorf("core row needs a cache id, a core id and a device")
	}

	cacheID, err := parseID(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid cache id %q: %w", fields[0], err)
	}
	coreID, err := parseID(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid core id %q: %w", fields[1], err)
	}
	device := fields[2]
	if !filepath.IsAbs(device) {
		return nil, fmt.Errorf("core device %q is not an absolute path", device)
	}

	core := &Core{CacheID: cacheID, CoreID: coreID, Device: device}

	if len(fields) > 3 {
		params, err := decodeCoreParams(fields[3])
		if err != nil {
			return nil, fmt.Errorf("core %d-%d options: %w", cacheID, coreID, err)
		}
		core.Params = params
	}

	return core, nil
}

func parseID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// optionMap splits a `key=value,key=value` options column.
func optionMap(opts string) (map[string]string, error) {
	m := make(map[string]string)
	for _, kv := range strings.Split(opts, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed option %q", kv)
		}
		m[k] = v
	}
	return m, nil
}

func decodeCacheParams(opts string) (CacheParams, error) {
	var params CacheParams
	m, err := optionMap(opts)
	if err != nil {
		return params, err
	}
	if err := decodeParams(m, &params); err != nil {
		return params, err
	}
	if params.LineSize != 0 && !validLineSize(params.LineSize) {
		return params, fmt.Errorf("unsupported cache line size %d", params.LineSize)
	}
	return params, nil
}

func decodeCoreParams(opts string) (CoreParams, error) {
	var params CoreParams
	m, err := optionMap(opts)
	if err != nil {
		return params, err
	}
	err = decodeParams(m, &params)
	return params, err
}

// decodeParams maps the raw option pairs onto a typed params struct. Keys
// without a struct field land in the Extra remainder map.
func decodeParams(m map[string]string, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

func validLineSize(kib int) bool {
	switch kib {
	case 4, 8, 16, 32, 64:
		return true
	}
	return false
}
