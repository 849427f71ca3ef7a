package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
app:
  name: myapp
  repo_url: https://git.example.com/myapp.git
paths:
  install_dir: /opt/myapp
`

func TestParseMinimalConfigAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Paths.StateDir != "/opt/myapp/state" {
		t.Errorf("StateDir = %q, want /opt/myapp/state", cfg.Paths.StateDir)
	}
	if cfg.Paths.BackupDir != "/opt/myapp/backups" {
		t.Errorf("BackupDir = %q, want /opt/myapp/backups", cfg.Paths.BackupDir)
	}
	if cfg.App.ComposeFile != DefaultComposeFile {
		t.Errorf("ComposeFile = %q, want %q", cfg.App.ComposeFile, DefaultComposeFile)
	}
	if cfg.Retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", cfg.Retry.MaxRetries, DefaultMaxRetries)
	}
	if cfg.Retry.BaseDelay.Std() != 2*time.Second {
		t.Errorf("BaseDelay = %v, want 2s", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Secrets.AdminUser != DefaultAdminUser {
		t.Errorf("AdminUser = %q, want %q", cfg.Secrets.AdminUser, DefaultAdminUser)
	}
	if len(cfg.Backup.Sources) != 2 {
		t.Errorf("default backup sources = %d, want 2", len(cfg.Backup.Sources))
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing app name",
			yaml: "app:\n  repo_url: https://x.example/y.git\npaths:\n  install_dir: /opt/x\n",
		},
		{
			name: "bad repo url",
			yaml: "app:\n  name: x\n  repo_url: not-a-url\npaths:\n  install_dir: /opt/x\n",
		},
		{
			name: "missing install dir",
			yaml: "app:\n  name: x\n  repo_url: https://x.example/y.git\n",
		},
		{
			name: "unknown field",
			yaml: minimalYAML + "unexpected_key: true\n",
		},
		{
			name: "port out of range",
			yaml: minimalYAML + "requirements:\n  ports: [80, 99999]\n",
		},
		{
			name: "bad duration",
			yaml: minimalYAML + "retry:\n  base_delay: soon\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() = nil error, want failure")
			}
		})
	}
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + `
retry:
  max_retries: 5
  base_delay: 500ms
  max_delay: 2m
backup:
  retention:
    max_age: 168h
    max_count: 4
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Retry.BaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Retry.MaxDelay.Std() != 2*time.Minute {
		t.Errorf("MaxDelay = %v, want 2m", cfg.Retry.MaxDelay.Std())
	}
	if cfg.Backup.Retention.MaxAge.Std() != 168*time.Hour {
		t.Errorf("Retention.MaxAge = %v, want 168h", cfg.Backup.Retention.MaxAge.Std())
	}
}

func TestHashIsStableAndDriftSensitive(t *testing.T) {
	a, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	b, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	hashA, err := a.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hashB, err := b.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hashA != hashB {
		t.Errorf("identical configs hash differently: %s vs %s", hashA, hashB)
	}

	c, err := Parse([]byte(strings.Replace(minimalYAML, "myapp.git", "other.git", 1)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	hashC, err := c.Hash()
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if hashC == hashA {
		t.Error("changed config hashes identically")
	}
}

func TestGenerateSecrets(t *testing.T) {
	secrets, err := GenerateSecrets(SecretsConfig{AdminUser: "ops", PasswordLength: 32})
	if err != nil {
		t.Fatalf("GenerateSecrets() error = %v", err)
	}
	if secrets.AdminUser != "ops" {
		t.Errorf("AdminUser = %q, want ops", secrets.AdminUser)
	}
	if len(secrets.AdminPassword) != 32 {
		t.Errorf("password length = %d, want 32", len(secrets.AdminPassword))
	}
	if !VerifyPassword(secrets.AdminPasswordHash, secrets.AdminPassword) {
		t.Error("hash does not verify against the generated password")
	}
	if VerifyPassword(secrets.AdminPasswordHash, "wrong") {
		t.Error("hash verifies against a wrong password")
	}
}

func TestWriteEnvFileIsCreateOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.env")

	secrets, err := GenerateSecrets(SecretsConfig{})
	if err != nil {
		t.Fatalf("GenerateSecrets() error = %v", err)
	}

	created, err := secrets.WriteEnvFile(path)
	if err != nil {
		t.Fatalf("WriteEnvFile() error = %v", err)
	}
	if !created {
		t.Fatal("WriteEnvFile() created = false on first write")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", info.Mode().Perm())
	}

	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(original), "ADMIN_PASSWORD=") {
		t.Errorf("env file missing ADMIN_PASSWORD entry")
	}

	// A second run must not rotate credentials.
	other, err := GenerateSecrets(SecretsConfig{})
	if err != nil {
		t.Fatalf("GenerateSecrets() error = %v", err)
	}
	created, err = other.WriteEnvFile(path)
	if err != nil {
		t.Fatalf("WriteEnvFile() second call error = %v", err)
	}
	if created {
		t.Error("WriteEnvFile() created = true for an existing file")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(after) != string(original) {
		t.Error("existing secrets file was rewritten")
	}
}
