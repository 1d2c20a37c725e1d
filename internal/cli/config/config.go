// Package config loads the tool-level settings for casctl from its config
// file, environment variables and CLI flags. The cache topology itself lives
// in a separate file handled by the conf package.
package config

// Defaults for tool settings.
const (
	// DefaultConfPath is the topology file consumed by the lifecycle commands.
	DefaultConfPath = "/etc/opencas/opencas.conf"
	// DefaultCasadmPath resolves the administration binary from PATH.
	DefaultCasadmPath = "casadm"
	// DefaultOutput is the output format for inspection commands.
	DefaultOutput = "table"
)

// Config holds the resolved tool settings.
type Config struct {
	// ConfPath is the path to the declared cache topology.
	ConfPath string `koanf:"conf_path"`
	// CasadmPath is the administration binary invoked for every operation.
	CasadmPath string `koanf:"casadm_path"`
	// Verbose enables debug logging.
	Verbose bool `koanf:"verbose"`
	// Output selects the rendering of inspection commands (table, csv, json).
	Output string `koanf:"output"`
}
