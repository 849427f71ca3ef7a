package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied to fields the operator left unset.
const (
	DefaultAdminUser      = "admin"
	DefaultPasswordLength = 24
	DefaultComposeFile    = "docker-compose.yml"
	DefaultMaxRetries     = 3
)

// Load reads, defaults, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes. Unknown fields are
// rejected so typos fail loudly instead of silently using defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyDefaults fills unset fields from the install dir and built-ins.
func (c *Config) applyDefaults() {
	root := c.Paths.InstallDir

	if c.Paths.StateDir == "" {
		c.Paths.StateDir = filepath.Join(root, "state")
	}
	if c.Paths.BackupDir == "" {
		c.Paths.BackupDir = filepath.Join(root, "backups")
	}
	if c.Paths.CertsDir == "" {
		c.Paths.CertsDir = filepath.Join(root, "certs")
	}
	if c.Paths.SecretsFile == "" {
		c.Paths.SecretsFile = filepath.Join(root, "secrets.env")
	}

	if c.App.ComposeFile == "" {
		c.App.ComposeFile = DefaultComposeFile
	}

	if c.Requirements.ContainerEngine == "" {
		c.Requirements.ContainerEngine = "docker"
	}

	if len(c.Backup.Sources) == 0 {
		c.Backup.Sources = []ArtifactSource{
			{Label: "secrets", Path: c.Paths.SecretsFile},
			{Label: "certs", Path: c.Paths.CertsDir},
		}
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(2 * time.Second)
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(60 * time.Second)
	}

	if c.Secrets.AdminUser == "" {
		c.Secrets.AdminUser = DefaultAdminUser
	}
	if c.Secrets.PasswordLength == 0 {
		c.Secrets.PasswordLength = DefaultPasswordLength
	}
}
