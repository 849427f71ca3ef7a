package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

// fakeCheck is a scripted check for runner tests.
type fakeCheck struct {
	name   string
	passed bool
	detail string
}

func (f *fakeCheck) Name() string { return f.name }

func (f *fakeCheck) Run(_ context.Context) Result {
	return Result{Passed: f.passed, Detail: f.detail}
}

func TestRunnerAggregatesAllResults(t *testing.T) {
	r := NewRunner([]Check{
		&fakeCheck{name: "one", passed: true, detail: "ok"},
		&fakeCheck{name: "two", passed: false, detail: "short on disk"},
		&fakeCheck{name: "three", passed: false, detail: "port busy"},
	}, zerolog.Nop())

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Results) != 3 {
		t.Fatalf("Run() results = %d, want 3", len(report.Results))
	}
	// Results keep configuration order even though checks run concurrently.
	for i, want := range []string{"one", "two", "three"} {
		if report.Results[i].Name != want {
			t.Errorf("Results[%d].Name = %q, want %q", i, report.Results[i].Name, want)
		}
	}
	if report.Passed() {
		t.Error("Passed() = true with failing checks")
	}
	if got := len(report.Failures()); got != 2 {
		t.Errorf("Failures() = %d, want 2", got)
	}
}

func TestRunnerCheckClassifiesFailures(t *testing.T) {
	r := NewRunner([]Check{
		&fakeCheck{name: "disk", passed: false, detail: "10 MiB free, need 500 MiB"},
	}, zerolog.Nop())

	err := r.Check(context.Background())
	if err == nil {
		t.Fatal("Check() = nil, want preflight error")
	}
	var installErr *orchestrator.InstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("Check() error type = %T, want *orchestrator.InstallError", err)
	}
	if installErr.Kind != orchestrator.KindPreflight {
		t.Errorf("Check() error kind = %q, want preflight", installErr.Kind)
	}
	if !strings.Contains(err.Error(), "disk") {
		t.Errorf("Check() error does not name the failed check: %v", err)
	}
}

func TestRunnerCheckPassesCleanHost(t *testing.T) {
	r := NewRunner([]Check{
		&fakeCheck{name: "a", passed: true},
		&fakeCheck{name: "b", passed: true},
	}, zerolog.Nop())
	if err := r.Check(context.Background()); err != nil {
		t.Fatalf("Check() error = %v, want nil", err)
	}
}

func TestDiskSpaceCheck(t *testing.T) {
	dir := t.TempDir()

	res := (&DiskSpaceCheck{Path: dir, MinBytes: 1}).Run(context.Background())
	if !res.Passed {
		t.Errorf("DiskSpaceCheck with 1 byte minimum failed: %s", res.Detail)
	}

	res = (&DiskSpaceCheck{Path: dir, MinBytes: 1 << 62}).Run(context.Background())
	if res.Passed {
		t.Errorf("DiskSpaceCheck with absurd minimum passed: %s", res.Detail)
	}

	res = (&DiskSpaceCheck{Path: dir + "/missing", MinBytes: 1}).Run(context.Background())
	if res.Passed || res.Err == nil {
		t.Errorf("DiskSpaceCheck on missing path did not report an error")
	}
}

func TestCPUCheck(t *testing.T) {
	if res := (&CPUCheck{MinCores: 1}).Run(context.Background()); !res.Passed {
		t.Errorf("CPUCheck requiring 1 core failed: %s", res.Detail)
	}
	if res := (&CPUCheck{MinCores: 1 << 20}).Run(context.Background()); res.Passed {
		t.Errorf("CPUCheck requiring 2^20 cores passed: %s", res.Detail)
	}
}

func TestPortCheckDetectsBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	res := (&PortCheck{Ports: []int{port}}).Run(context.Background())
	if res.Passed {
		t.Errorf("PortCheck passed on a bound port: %s", res.Detail)
	}
	if !strings.Contains(res.Detail, fmt.Sprintf("%d", port)) {
		t.Errorf("PortCheck detail does not name the busy port: %s", res.Detail)
	}
}
