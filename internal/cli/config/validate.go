package config

import "fmt"

// validOutputs lists the rendering formats accepted by inspection commands.
var validOutputs = map[string]bool{
	"table": true,
	"csv":   true,
	"json":  true,
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ConfPath == "" {
		return fmt.Errorf("conf_path is required")
	}
	if c.CasadmPath == "" {
		return fmt.Errorf("casadm_path is required")
	}
	if !validOutputs[c.Output] {
		return fmt.Errorf("unknown output format %q (valid: table, csv, json)", c.Output)
	}
	return nil
}
