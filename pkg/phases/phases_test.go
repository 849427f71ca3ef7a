package phases

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/config"
	"github.com/deckhand/deckhand/pkg/orchestrator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
app:
  name: myapp
  repo_url: https://git.example.com/myapp.git
paths:
  install_dir: %s
`, root)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

// scriptedRunner records invocations and returns scripted outcomes keyed by
// the command's first tokens.
type scriptedRunner struct {
	calls    []string
	failures map[string]error
}

func (s *scriptedRunner) run(_ context.Context, _, name string, args ...string) (string, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	s.calls = append(s.calls, call)
	for prefix, err := range s.failures {
		if strings.HasPrefix(call, prefix) {
			return "scripted failure", err
		}
	}
	return "ok", nil
}

func TestListTopology(t *testing.T) {
	a := NewActions(testConfig(t), zerolog.Nop())
	phases := a.List()

	if err := orchestrator.ValidatePhaseList(phases); err != nil {
		t.Fatalf("ValidatePhaseList() error = %v", err)
	}

	want := []string{
		PhaseInstallDeps, PhaseClone, PhaseConfigure, PhaseCerts,
		PhasePull, PhaseBuild, PhaseCleanup, PhaseStart,
	}
	if len(phases) != len(want) {
		t.Fatalf("List() returned %d phases, want %d", len(phases), len(want))
	}
	for i, name := range want {
		if phases[i].Name != name {
			t.Errorf("phases[%d].Name = %q, want %q", i, phases[i].Name, name)
		}
		if phases[i].Index != i {
			t.Errorf("phases[%d].Index = %d, want %d", i, phases[i].Index, i)
		}
	}

	for _, p := range phases {
		if p.Destructive != (p.Name == PhaseCleanup) {
			t.Errorf("phase %s destructive = %v", p.Name, p.Destructive)
		}
	}
}

func TestInstallDepsClassification(t *testing.T) {
	tests := []struct {
		name          string
		failures      map[string]error
		wantRetryable bool
		wantFatal     bool
	}{
		{
			name: "all tooling present",
		},
		{
			name:          "daemon not ready is retryable",
			failures:      map[string]error{"docker version": fmt.Errorf("connection refused")},
			wantRetryable: true,
		},
		{
			name:      "missing compose plugin is fatal",
			failures:  map[string]error{"docker compose version": fmt.Errorf("unknown command")},
			wantFatal: true,
		},
		{
			name:      "missing git is fatal",
			failures:  map[string]error{"git --version": fmt.Errorf("executable not found")},
			wantFatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &scriptedRunner{failures: tt.failures}
			a := NewActions(testConfig(t), zerolog.Nop(), WithRunner(runner.run))

			err := a.InstallDeps(context.Background())
			if !tt.wantRetryable && !tt.wantFatal {
				if err != nil {
					t.Fatalf("InstallDeps() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatal("InstallDeps() = nil, want classified error")
			}
			if got := orchestrator.IsRetryable(err); got != tt.wantRetryable {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.wantRetryable)
			}
		})
	}
}

func TestCloneFreshCheckoutIsRetryable(t *testing.T) {
	runner := &scriptedRunner{failures: map[string]error{"git clone": fmt.Errorf("could not resolve host")}}
	a := NewActions(testConfig(t), zerolog.Nop(), WithRunner(runner.run))

	err := a.Clone(context.Background())
	if !orchestrator.IsRetryable(err) {
		t.Fatalf("Clone() error = %v, want retryable", err)
	}
	if len(runner.calls) != 1 || !strings.Contains(runner.calls[0], "--depth 1") {
		t.Errorf("Clone() calls = %v, want a single shallow clone", runner.calls)
	}
}

func TestPullAndStartUseComposeFile(t *testing.T) {
	runner := &scriptedRunner{}
	a := NewActions(testConfig(t), zerolog.Nop(), WithRunner(runner.run))

	if err := a.Pull(context.Background()); err != nil {
		t.Fatalf("Pull() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, call := range runner.calls {
		if !strings.Contains(call, "compose -f "+config.DefaultComposeFile) {
			t.Errorf("call %q does not target the compose file", call)
		}
	}
}

func TestConfigureWritesSecretsOnce(t *testing.T) {
	cfg := testConfig(t)
	a := NewActions(cfg, zerolog.Nop())

	if err := a.Configure(context.Background()); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	first := readFileT(t, cfg.Paths.SecretsFile)

	if err := a.Configure(context.Background()); err != nil {
		t.Fatalf("Configure() second run error = %v", err)
	}
	if readFileT(t, cfg.Paths.SecretsFile) != first {
		t.Error("Configure() rewrote the secrets file on re-run")
	}
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()

	created, err := EnsureSelfSignedCert(dir, "myapp")
	if err != nil {
		t.Fatalf("EnsureSelfSignedCert() error = %v", err)
	}
	if !created {
		t.Fatal("EnsureSelfSignedCert() created = false on first call")
	}

	// The pair must actually load as a TLS keypair.
	if _, err := tls.LoadX509KeyPair(
		filepath.Join(dir, certFileName), filepath.Join(dir, keyFileName)); err != nil {
		t.Fatalf("generated pair does not load: %v", err)
	}

	created, err = EnsureSelfSignedCert(dir, "myapp")
	if err != nil {
		t.Fatalf("EnsureSelfSignedCert() second call error = %v", err)
	}
	if created {
		t.Error("EnsureSelfSignedCert() regenerated an existing pair")
	}
}

func readFileT(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return string(data)
}
