package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// RawCredential is the on-disk JSON shape of one credential entry, either
// loaded from a top-level array or promoted from a legacy single-object
// file. Field names match the wire format exactly; normalization (auth
// method aliases, default priority, etc.) happens in internal/pool.
type RawCredential struct {
	ID           *int64 `json:"id,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken"`
	ProfileARN   string `json:"profileArn,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	AuthMethod   string `json:"authMethod"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Priority     *int   `json:"priority,omitempty"`
	Region       string `json:"region,omitempty"`
	MachineID    string `json:"machineId,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
	DisableReason string `json:"disableReason,omitempty"`

	// Persistent counters, bucketed by day (RFC3339 date) and by model.
	CallCounts  map[string]map[string]int64 `json:"callCounts,omitempty"`
	TokenCounts map[string]map[string]int64 `json:"tokenCounts,omitempty"`
}

// LoadCredentialsFile reads the credentials JSON file, accepting either a
// single legacy object or an array of objects. It reports whether the file
// was in legacy (single-object) form so the caller can log a one-time
// promotion event, per spec.md §6.
func LoadCredentialsFile(path string) (creds []RawCredential, legacy bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("read credentials file: %w", err)
	}

	trimmed := firstNonSpace(data)
	switch trimmed {
	case '[':
		if err := json.Unmarshal(data, &creds); err != nil {
			return nil, false, fmt.Errorf("parse credentials array: %w", err)
		}
		return creds, false, nil
	case '{':
		var single RawCredential
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, false, fmt.Errorf("parse legacy credential object: %w", err)
		}
		return []RawCredential{single}, true, nil
	default:
		return nil, false, fmt.Errorf("credentials file: unrecognized JSON shape")
	}
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b
		}
	}
	return 0
}

// SaveCredentialsFile atomically rewrites the credentials file from the
// full in-memory projection: write to a temp file in the same directory,
// fsync, then rename over the original. Always emits the array form, even
// if the file started out as a legacy single object.
func SaveCredentialsFile(path string, creds []RawCredential) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dirOf(path), ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp credentials file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credentials file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp credentials file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credentials file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename credentials file: %w", err)
	}
	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
