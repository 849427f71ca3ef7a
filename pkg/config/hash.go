package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Snapshot renders the resolved configuration as canonical JSON. Struct
// field order is fixed, so identical configurations always produce identical
// bytes regardless of YAML formatting or key order in the source file.
func (c *Config) Snapshot() (json.RawMessage, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot config: %w", err)
	}
	return data, nil
}

// Hash returns the hex SHA-256 of the canonical snapshot. A resumed run
// compares this against the hash stored in the installation state to detect
// configuration drift.
func (c *Config) Hash() (string, error) {
	snapshot, err := c.Snapshot()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(snapshot)
	return hex.EncodeToString(sum[:]), nil
}
