package config

import (
	"fmt"
	"time"

	"github.com/deckhand/deckhand/pkg/telemetry"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the resolved installation configuration. Its canonical JSON
// form is hashed and embedded into the installation state so a resumed run
// can detect that the configuration changed underneath it.
type Config struct {
	// App describes the application being installed.
	App AppConfig `yaml:"app" json:"app" validate:"required"`

	// Paths locates the installation on disk.
	Paths PathsConfig `yaml:"paths" json:"paths" validate:"required"`

	// Requirements are the host resources preflight validates.
	Requirements RequirementsConfig `yaml:"requirements" json:"requirements"`

	// Backup configures what gets captured before destructive phases.
	Backup BackupConfig `yaml:"backup" json:"backup"`

	// Retry tunes the phase retry engine.
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Secrets configures generated credentials.
	Secrets SecretsConfig `yaml:"secrets" json:"secrets"`

	// Telemetry configures logging, tracing, and metrics output.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// AppConfig identifies the application stack to install.
type AppConfig struct {
	// Name is the installation name, used in logs and metrics.
	Name string `yaml:"name" json:"name" validate:"required"`

	// RepoURL is the git repository holding the application sources.
	RepoURL string `yaml:"repo_url" json:"repo_url" validate:"required,url"`

	// Branch is the git ref to install. Empty means the remote default.
	Branch string `yaml:"branch" json:"branch,omitempty"`

	// Registry is the container registry images are pulled from.
	Registry string `yaml:"registry" json:"registry,omitempty"`

	// ComposeFile is the compose file used to build and start the stack,
	// relative to the clone directory.
	ComposeFile string `yaml:"compose_file" json:"compose_file,omitempty"`
}

// PathsConfig locates the installation artifacts on the host.
type PathsConfig struct {
	// InstallDir is the root of the installation.
	InstallDir string `yaml:"install_dir" json:"install_dir" validate:"required"`

	// StateDir holds the state file, lock file, and history database.
	// Defaults to <install_dir>/state.
	StateDir string `yaml:"state_dir" json:"state_dir,omitempty"`

	// BackupDir holds captured backups. Defaults to <install_dir>/backups.
	BackupDir string `yaml:"backup_dir" json:"backup_dir,omitempty"`

	// CertsDir holds generated TLS material. Defaults to <install_dir>/certs.
	CertsDir string `yaml:"certs_dir" json:"certs_dir,omitempty"`

	// SecretsFile is the env file generated credentials are written to.
	// Defaults to <install_dir>/secrets.env.
	SecretsFile string `yaml:"secrets_file" json:"secrets_file,omitempty"`
}

// RequirementsConfig sets the host requirements preflight enforces.
type RequirementsConfig struct {
	// MinDiskMB is the minimum free disk space in MiB under the install dir.
	MinDiskMB uint64 `yaml:"min_disk_mb" json:"min_disk_mb"`

	// MinMemoryMB is the minimum total system memory in MiB.
	MinMemoryMB uint64 `yaml:"min_memory_mb" json:"min_memory_mb"`

	// MinCPUs is the minimum number of logical CPUs.
	MinCPUs int `yaml:"min_cpus" json:"min_cpus"`

	// Ports are the TCP ports the stack will bind; they must be free.
	Ports []int `yaml:"ports" json:"ports,omitempty" validate:"dive,min=1,max=65535"`

	// ContainerEngine is the engine binary probed for reachability.
	ContainerEngine string `yaml:"container_engine" json:"container_engine,omitempty"`
}

// ArtifactSource is one file or directory captured into backups.
type ArtifactSource struct {
	// Label identifies the artifact in manifests.
	Label string `yaml:"label" json:"label" validate:"required"`

	// Path is the absolute file or directory to capture.
	Path string `yaml:"path" json:"path" validate:"required"`
}

// BackupConfig configures capture sources and retention.
type BackupConfig struct {
	// Sources lists the mutable artifacts to protect.
	Sources []ArtifactSource `yaml:"sources" json:"sources,omitempty" validate:"dive"`

	// Retention prunes old backups. The most recent backup always survives.
	Retention RetentionConfig `yaml:"retention" json:"retention"`
}

// RetentionConfig bounds how many backups are kept.
type RetentionConfig struct {
	// MaxAge removes backups older than this. Zero keeps all ages.
	MaxAge Duration `yaml:"max_age" json:"max_age,omitempty"`

	// MaxCount caps the retained backup count. Zero keeps all.
	MaxCount int `yaml:"max_count" json:"max_count,omitempty" validate:"min=0"`
}

// RetryConfig tunes how failed phase attempts are retried.
type RetryConfig struct {
	// MaxRetries is the default number of additional attempts per phase.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min=0"`

	// BaseDelay is the first backoff delay.
	BaseDelay Duration `yaml:"base_delay" json:"base_delay,omitempty"`

	// MaxDelay caps the exponential backoff.
	MaxDelay Duration `yaml:"max_delay" json:"max_delay,omitempty"`
}

// SecretsConfig configures generated credentials.
type SecretsConfig struct {
	// AdminUser is the administrative account name written to the env file.
	AdminUser string `yaml:"admin_user" json:"admin_user,omitempty"`

	// PasswordLength is the generated password length.
	PasswordLength int `yaml:"password_length" json:"password_length,omitempty" validate:"min=0"`

	// BcryptCost is the cost for the stored password hash.
	BcryptCost int `yaml:"bcrypt_cost" json:"bcrypt_cost,omitempty" validate:"min=0"`
}

// TelemetryConfig is the YAML-facing view of telemetry settings.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level,omitempty"`

	// LogFormat selects console or json output.
	LogFormat string `yaml:"log_format" json:"log_format,omitempty"`

	// TracingEnabled turns span export on.
	TracingEnabled bool `yaml:"tracing_enabled" json:"tracing_enabled,omitempty"`

	// MetricsTextfile is where end-of-run metrics are written. Empty
	// disables the dump.
	MetricsTextfile string `yaml:"metrics_textfile" json:"metrics_textfile,omitempty"`
}

// Telemetry maps the YAML view onto the telemetry package configuration.
func (t TelemetryConfig) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	cfg.Tracing.Enabled = t.TracingEnabled
	cfg.Metrics.TextfilePath = t.MetricsTextfile
	return cfg
}
