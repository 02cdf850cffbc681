package config

import (
	"fmt"
	"regexp"
)

var machineIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Validate checks invariants on a loaded Config that json.Unmarshal cannot
// enforce on its own.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: apiKey is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.TLSBackend != "" && c.TLSBackend != "rustls" && c.TLSBackend != "native-tls" {
		return fmt.Errorf("config: tlsBackend %q must be rustls or native-tls", c.TLSBackend)
	}
	if c.MachineID != "" && !machineIDPattern.MatchString(c.MachineID) {
		return fmt.Errorf("config: machineId must be 64 lowercase hex characters")
	}
	switch c.Compression.ThinkingStrategy {
	case "", "discard", "truncate", "keep":
	default:
		return fmt.Errorf("config: compression.thinkingStrategy %q invalid", c.Compression.ThinkingStrategy)
	}
	return nil
}
