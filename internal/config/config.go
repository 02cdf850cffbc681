package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Config is the gateway's JSON configuration file, loaded once at startup.
type Config struct {
	APIKey      string `json:"apiKey"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Region      string `json:"region"`
	TLSBackend  string `json:"tlsBackend"`
	KiroVersion string `json:"kiroVersion"`
	MachineID   string `json:"machineId"`
	SystemVersion string `json:"systemVersion"`
	NodeVersion   string `json:"nodeVersion"`

	CountTokensAPI *CountTokensAPIConfig `json:"countTokensApi,omitempty"`
	Proxy          *ProxyConfig          `json:"proxy,omitempty"`

	AdminAPIKey   string `json:"adminApiKey,omitempty"`
	CredentialRPM int    `json:"credentialRpm,omitempty"`

	Compression CompressionConfig `json:"compression"`

	// CredentialsFile is the path to the credentials JSON file. Not part of
	// the wire format the original describes but needed to locate it; kept
	// out of the JSON struct. Load leaves it empty; cmd/server sets it from
	// a flag/env var after loading.
	CredentialsFile string `json:"-"`
}

// CountTokensAPIConfig describes an optional external token-counting
// service. This module does not implement that service — it only carries
// the config shape so a real one can be wired in later (see spec Non-goals).
type CountTokensAPIConfig struct {
	URL      string `json:"url"`
	Key      string `json:"key,omitempty"`
	AuthType string `json:"authType,omitempty"`
}

// ProxyConfig describes an optional outbound HTTP proxy for upstream calls.
type ProxyConfig struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// CompressionConfig configures the request-body compression pipeline
// collaborator (see internal/convert.Compressor). The tuning of each
// strategy is out of scope; this struct only carries the knobs spec.md
// names.
type CompressionConfig struct {
	WhitespaceCoalescing bool   `json:"whitespaceCoalescing"`
	ThinkingStrategy     string `json:"thinkingStrategy"` // "discard" | "truncate" | "keep"
	ToolResultHeadLines  int    `json:"toolResultHeadLines"`
	ToolResultTailLines  int    `json:"toolResultTailLines"`
	ToolInputMaxBytes    int    `json:"toolInputMaxBytes"`
	ToolDescriptionMaxLen int   `json:"toolDescriptionMaxLen"`
	KeepHistoryPairs     int   `json:"keepHistoryPairs"`
}

var envPlaceholder = regexp.MustCompile(`^\$\{([^}]*)\}$`)

// resolveEnvVar expands "${VAR}" or "${VAR:-default}" placeholders in a
// single config value. Values that are not placeholders pass through
// unchanged.
func resolveEnvVar(value string) string {
	m := envPlaceholder.FindStringSubmatch(value)
	if m == nil {
		return value
	}
	content := m[1]

	var varName, defaultVal string
	if idx := strings.Index(content, ":-"); idx != -1 {
		varName = content[:idx]
		defaultVal = content[idx+2:]
	} else {
		varName = content
	}

	if envVal := os.Getenv(varName); envVal != "" {
		return envVal
	}
	return defaultVal
}

// Load reads and parses the JSON config file at path, expanding
// ${VAR:-default} placeholders in apiKey, adminApiKey, machineId,
// countTokensApi.key and proxy.password (other string fields are taken
// literally), filling defaults, and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.APIKey = resolveEnvVar(cfg.APIKey)
	cfg.AdminAPIKey = resolveEnvVar(cfg.AdminAPIKey)
	cfg.MachineID = resolveEnvVar(cfg.MachineID)
	if cfg.CountTokensAPI != nil {
		cfg.CountTokensAPI.Key = resolveEnvVar(cfg.CountTokensAPI.Key)
	}
	if cfg.Proxy != nil {
		cfg.Proxy.Password = resolveEnvVar(cfg.Proxy.Password)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.TLSBackend == "" {
		cfg.TLSBackend = "rustls"
	}
	if cfg.Compression.ThinkingStrategy == "" {
		cfg.Compression.ThinkingStrategy = "truncate"
	}
	if cfg.Compression.KeepHistoryPairs == 0 {
		cfg.Compression.KeepHistoryPairs = 2
	}
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdminEnabled reports whether the admin surface should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.AdminAPIKey != ""
}
