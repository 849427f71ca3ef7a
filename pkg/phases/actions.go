package phases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/config"
	"github.com/deckhand/deckhand/pkg/orchestrator"
)

// Phase names, in topology order.
const (
	PhaseInstallDeps = "install_deps"
	PhaseClone       = "clone"
	PhaseConfigure   = "configure"
	PhaseCerts       = "certs"
	PhasePull        = "pull"
	PhaseBuild       = "build"
	PhaseCleanup     = "cleanup"
	PhaseStart       = "start"
)

// Actions implements the built-in installation phases for a compose-based
// container stack. Each method is an opaque action: it performs its work and
// reports the outcome as a classified error, leaving sequencing, retries,
// and persistence to the orchestrator.
type Actions struct {
	cfg    *config.Config
	run    CommandRunner
	logger zerolog.Logger
}

// Option configures the action set.
type Option func(*Actions)

// WithRunner replaces the external command runner.
func WithRunner(run CommandRunner) Option {
	return func(a *Actions) { a.run = run }
}

// NewActions creates the built-in action set for a configuration.
func NewActions(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Actions {
	a := &Actions{cfg: cfg, run: runCommand, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// List returns the fixed linear topology with every flag declared
// explicitly. Indexes are assigned from position.
func (a *Actions) List() []orchestrator.PhaseDescriptor {
	retries := a.cfg.Retry.MaxRetries
	phases := []orchestrator.PhaseDescriptor{
		{
			Name:       PhaseInstallDeps,
			Label:      "Install host dependencies",
			Action:     a.InstallDeps,
			Idempotent: true,
			Timeout:    10 * time.Minute,
			MaxRetries: retries,
		},
		{
			Name:       PhaseClone,
			Label:      "Clone application repository",
			Action:     a.Clone,
			Idempotent: true,
			Timeout:    10 * time.Minute,
			MaxRetries: retries,
		},
		{
			Name:       PhaseConfigure,
			Label:      "Render configuration and secrets",
			Action:     a.Configure,
			Idempotent: true,
			Timeout:    time.Minute,
			MaxRetries: 0,
		},
		{
			Name:       PhaseCerts,
			Label:      "Generate TLS certificates",
			Action:     a.Certs,
			Idempotent: true,
			Timeout:    time.Minute,
			MaxRetries: 0,
		},
		{
			Name:       PhasePull,
			Label:      "Pull container images",
			Action:     a.Pull,
			Idempotent: true,
			Timeout:    20 * time.Minute,
			MaxRetries: retries,
		},
		{
			Name:       PhaseBuild,
			Label:      "Build container images",
			Action:     a.Build,
			Idempotent: true,
			Timeout:    30 * time.Minute,
			MaxRetries: retries,
		},
		{
			Name:        PhaseCleanup,
			Label:       "Remove previous stack data",
			Action:      a.Cleanup,
			Destructive: true,
			// Re-running a partial cleanup repeats deletions that may have
			// already happened, so it is flagged non-idempotent.
			Idempotent:   false,
			Timeout:      5 * time.Minute,
			MaxRetries:   0,
			TimeoutFatal: true,
		},
		{
			Name:       PhaseStart,
			Label:      "Start application stack",
			Action:     a.Start,
			Idempotent: true,
			Timeout:    10 * time.Minute,
			MaxRetries: retries,
		},
	}
	for i := range phases {
		phases[i].Index = i
	}
	return phases
}

// cloneDir is where the application sources are checked out.
func (a *Actions) cloneDir() string {
	return filepath.Join(a.cfg.Paths.InstallDir, "src")
}

// composeArgs prefixes compose invocations with the configured compose file.
func (a *Actions) composeArgs(args ...string) []string {
	return append([]string{"compose", "-f", a.cfg.App.ComposeFile}, args...)
}

// InstallDeps verifies the container engine tooling is usable. Package
// installation is delegated to the host's own package manager beforehand;
// this phase fails fast when the tooling is absent rather than half-way
// through the run.
func (a *Actions) InstallDeps(ctx context.Context) error {
	engine := a.cfg.Requirements.ContainerEngine

	if out, err := a.run(ctx, "", engine, "version", "--format", "{{.Server.Version}}"); err != nil {
		// The daemon may still be starting; worth retrying.
		return orchestrator.NewRetryableError(
			fmt.Sprintf("%s daemon not ready: %s", engine, out), err)
	}
	if _, err := a.run(ctx, "", engine, "compose", "version"); err != nil {
		return orchestrator.NewFatalError(
			fmt.Sprintf("%s compose plugin is not installed", engine), err)
	}
	if _, err := a.run(ctx, "", "git", "--version"); err != nil {
		return orchestrator.NewFatalError("git is not installed", err)
	}
	return nil
}

// Clone checks out the application sources. An existing checkout is updated
// in place, which makes the phase safe to repeat.
func (a *Actions) Clone(ctx context.Context) error {
	dir := a.cloneDir()

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		a.logger.Debug().Str("dir", dir).Msg("existing checkout, fetching")
		if out, err := a.run(ctx, dir, "git", "fetch", "--prune", "origin"); err != nil {
			return orchestrator.NewRetryableError("git fetch failed: "+out, err)
		}
		ref := a.cfg.App.Branch
		if ref == "" {
			ref = "HEAD"
		} else {
			ref = "origin/" + ref
		}
		if out, err := a.run(ctx, dir, "git", "reset", "--hard", ref); err != nil {
			return orchestrator.NewFatalError("git reset failed: "+out, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return orchestrator.NewFatalError("failed to create source directory", err)
	}
	args := []string{"clone", "--depth", "1"}
	if a.cfg.App.Branch != "" {
		args = append(args, "--branch", a.cfg.App.Branch)
	}
	args = append(args, a.cfg.App.RepoURL, dir)
	if out, err := a.run(ctx, "", "git", args...); err != nil {
		// Network clones fail transiently all the time.
		return orchestrator.NewRetryableError("git clone failed: "+out, err)
	}
	return nil
}

// Configure generates the admin credentials (first run only) and renders
// them into the secrets env file the stack reads.
func (a *Actions) Configure(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	secrets, err := config.GenerateSecrets(a.cfg.Secrets)
	if err != nil {
		return orchestrator.NewFatalError("secret generation failed", err)
	}
	created, err := secrets.WriteEnvFile(a.cfg.Paths.SecretsFile)
	if err != nil {
		return orchestrator.NewFatalError("failed to write secrets file", err)
	}
	if created {
		a.logger.Info().Str("path", a.cfg.Paths.SecretsFile).Msg("admin credentials generated")
	} else {
		a.logger.Debug().Str("path", a.cfg.Paths.SecretsFile).Msg("secrets file already present")
	}
	return nil
}

// Certs ensures a server certificate exists, generating a self-signed pair
// when missing.
func (a *Actions) Certs(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	created, err := EnsureSelfSignedCert(a.cfg.Paths.CertsDir, a.cfg.App.Name)
	if err != nil {
		return orchestrator.NewFatalError("certificate generation failed", err)
	}
	if created {
		a.logger.Info().Str("dir", a.cfg.Paths.CertsDir).Msg("self-signed certificate generated")
	}
	return nil
}

// Pull fetches the stack's container images.
func (a *Actions) Pull(ctx context.Context) error {
	engine := a.cfg.Requirements.ContainerEngine
	if out, err := a.run(ctx, a.cloneDir(), engine, a.composeArgs("pull")...); err != nil {
		return orchestrator.NewRetryableError("image pull failed: "+out, err)
	}
	return nil
}

// Build builds the images defined by the compose file. Builds hit the
// network for base layers, so failures are retried.
func (a *Actions) Build(ctx context.Context) error {
	engine := a.cfg.Requirements.ContainerEngine
	if out, err := a.run(ctx, a.cloneDir(), engine, a.composeArgs("build")...); err != nil {
		return orchestrator.NewRetryableError("image build failed: "+out, err)
	}
	return nil
}

// Cleanup tears down any previous deployment of the stack, including its
// volumes. This deletes data, which is why the phase is declared destructive
// and only runs behind a verified backup.
func (a *Actions) Cleanup(ctx context.Context) error {
	engine := a.cfg.Requirements.ContainerEngine

	out, err := a.run(ctx, a.cloneDir(), engine, a.composeArgs("down", "--volumes", "--remove-orphans")...)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// A stack that was never up is not an error.
		a.logger.Debug().Str("output", out).Msg("compose down reported nothing to remove")
	}
	if err != nil && ctx.Err() != nil {
		return err
	}

	dataDir := filepath.Join(a.cfg.Paths.InstallDir, "data")
	if err := os.RemoveAll(dataDir); err != nil {
		return orchestrator.NewFatalError("failed to remove previous data directory", err)
	}
	return nil
}

// Start brings the stack up detached and waits for it to settle.
func (a *Actions) Start(ctx context.Context) error {
	engine := a.cfg.Requirements.ContainerEngine
	if out, err := a.run(ctx, a.cloneDir(), engine, a.composeArgs("up", "--detach", "--wait")...); err != nil {
		return orchestrator.NewRetryableError("stack start failed: "+out, err)
	}
	return nil
}
