package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deckhand/deckhand/pkg/orchestrator"
)

// Check is a single host validation. Checks must be safe to run
// concurrently with each other and must not mutate the host.
type Check interface {
	// Name identifies the check in reports and logs.
	Name() string

	// Run performs the validation. A failed requirement is reported
	// through the result, not the error; the error is reserved for the
	// check itself being unable to run.
	Run(ctx context.Context) Result
}

// Result is the outcome of one check.
type Result struct {
	// Name is the check that produced this result.
	Name string `json:"name"`

	// Passed reports whether the requirement is satisfied.
	Passed bool `json:"passed"`

	// Detail is a human-readable summary of what was measured.
	Detail string `json:"detail"`

	// Err holds the failure cause when the check could not run at all.
	Err error `json:"-"`
}

// Report aggregates the results of a full validation pass.
type Report struct {
	// Results holds one entry per configured check, in configuration order.
	Results []Result `json:"results"`

	// Duration is how long the pass took.
	Duration time.Duration `json:"duration"`
}

// Passed reports whether every check succeeded.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Failures returns the results that did not pass.
func (r *Report) Failures() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Runner executes a fixed set of checks concurrently and aggregates the
// outcome. It implements orchestrator.PreflightRunner.
type Runner struct {
	checks []Check
	logger zerolog.Logger
}

// NewRunner creates a runner over the given checks.
func NewRunner(checks []Check, logger zerolog.Logger) *Runner {
	return &Runner{checks: checks, logger: logger}
}

// Run executes every check concurrently. All checks run to completion even
// when some fail, so the report names every unmet requirement at once.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Results: make([]Result, len(r.checks))}

	g, ctx := errgroup.WithContext(ctx)
	for i, check := range r.checks {
		i, check := i, check
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := check.Run(ctx)
			res.Name = check.Name()
			report.Results[i] = res

			evt := r.logger.Debug()
			if !res.Passed {
				evt = r.logger.Warn()
			}
			evt.Str("check", res.Name).Bool("passed", res.Passed).
				Str("detail", res.Detail).Msg("preflight check finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	return report, nil
}

// Check implements orchestrator.PreflightRunner. It runs the full pass and
// converts any unmet requirement into a single classified error naming all
// failed checks.
func (r *Runner) Check(ctx context.Context) error {
	report, err := r.Run(ctx)
	if err != nil {
		return orchestrator.NewPreflightError("preflight validation could not run", err)
	}
	failures := report.Failures()
	if len(failures) == 0 {
		return nil
	}

	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Name, f.Detail))
	}
	return orchestrator.NewPreflightError(
		fmt.Sprintf("%d preflight check(s) failed: %s", len(failures), strings.Join(parts, "; ")), nil)
}
