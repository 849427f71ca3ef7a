package config

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// passwordAlphabet avoids characters that need shell or env-file quoting.
const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_"

// GeneratedSecrets holds the credentials produced for a fresh installation.
// The plaintext password is written once to the secrets env file; only the
// bcrypt hash is handed to the installed services.
type GeneratedSecrets struct {
	AdminUser         string
	AdminPassword     string
	AdminPasswordHash string
}

// GenerateSecrets produces a random admin password and its bcrypt hash.
func GenerateSecrets(cfg SecretsConfig) (*GeneratedSecrets, error) {
	length := cfg.PasswordLength
	if length <= 0 {
		length = DefaultPasswordLength
	}
	cost := cfg.BcryptCost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}

	password, err := randomString(length)
	if err != nil {
		return nil, fmt.Errorf("failed to generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := cfg.AdminUser
	if user == "" {
		user = DefaultAdminUser
	}
	return &GeneratedSecrets{
		AdminUser:         user,
		AdminPassword:     password,
		AdminPasswordHash: string(hash),
	}, nil
}

// WriteEnvFile persists the secrets as an env file with owner-only
// permissions. An existing file is left untouched and reported, so a resumed
// run never rotates credentials the stack already uses.
func (s *GeneratedSecrets) WriteEnvFile(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ADMIN_USER=%s\n", s.AdminUser)
	fmt.Fprintf(&b, "ADMIN_PASSWORD=%s\n", s.AdminPassword)
	fmt.Fprintf(&b, "ADMIN_PASSWORD_HASH=%s\n", s.AdminPasswordHash)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return false, fmt.Errorf("failed to create secrets file: %w", err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to sync secrets file: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close secrets file: %w", err)
	}
	return true, nil
}

// VerifyPassword checks a candidate password against the stored hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// randomString draws length characters uniformly from the alphabet using
// the cryptographic random source.
func randomString(length int) (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
