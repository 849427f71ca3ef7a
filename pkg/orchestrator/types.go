package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Action is the opaque phase work contract. Implementations confine their side
// effects to the target environment and classify their own failures: a nil
// return means success, an error built with NewRetryableError may be retried,
// anything else is treated as fatal.
type Action func(ctx context.Context) error

// PhaseDescriptor describes one discrete, ordered step of the installation
// sequence. Descriptors are immutable once the phase list is built for a run.
type PhaseDescriptor struct {
	// Index is the ordinal position of the phase in the sequence.
	Index int `json:"index"`

	// Name is the stable machine identifier of the phase.
	Name string `json:"name"`

	// Label is the human-readable description shown to the operator.
	Label string `json:"label"`

	// Action performs the phase work. Never invoked by the orchestrator
	// directly; execution is handed to the retry engine.
	Action Action `json:"-"`

	// Destructive marks phases that may irreversibly alter existing target
	// state. A verified backup must exist before a destructive phase runs.
	Destructive bool `json:"destructive"`

	// Idempotent marks phases safe to skip on resume once recorded
	// successful. Non-idempotent phases may be re-executed with ForceRerun.
	Idempotent bool `json:"idempotent"`

	// Timeout bounds a single attempt of the phase action.
	Timeout time.Duration `json:"timeout"`

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int `json:"max_retries"`

	// TimeoutFatal treats an attempt timeout as fatal instead of retryable.
	// Destructive phases should declare this to avoid repeating a partially
	// applied destructive step.
	TimeoutFatal bool `json:"timeout_fatal"`
}

// Validate checks the descriptor for construction mistakes.
func (p *PhaseDescriptor) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("phase %d: name must not be empty", p.Index)
	}
	if p.Action == nil {
		return fmt.Errorf("phase %s: action must not be nil", p.Name)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("phase %s: max retries must not be negative", p.Name)
	}
	return nil
}

// ValidatePhaseList checks a phase list for empty names, nil actions,
// duplicate names, and index gaps.
func ValidatePhaseList(phases []PhaseDescriptor) error {
	if len(phases) == 0 {
		return fmt.Errorf("phase list must not be empty")
	}
	seen := make(map[string]struct{}, len(phases))
	for i := range phases {
		p := &phases[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if p.Index != i {
			return fmt.Errorf("phase %s: index %d does not match position %d", p.Name, p.Index, i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate phase name: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// RunOptions control a single invocation of the orchestrator.
type RunOptions struct {
	// Resume continues a previously persisted run instead of starting fresh.
	// If no prior state exists, resume degrades to a fresh run.
	Resume bool

	// ForceRerun re-executes non-idempotent phases already recorded as
	// succeeded. Only meaningful together with Resume.
	ForceRerun bool

	// SkipChecks bypasses pre-flight validation.
	SkipChecks bool
}

// PhaseResult reports the outcome of one phase within a run.
type PhaseResult struct {
	// Name is the phase name.
	Name string `json:"name"`

	// Status is the terminal status the phase reached in this run.
	Status PhaseStatus `json:"status"`

	// Attempts is the number of attempts made in this run. Zero for phases
	// skipped by resume.
	Attempts int `json:"attempts"`

	// Duration is the wall-clock time spent on the phase in this run.
	Duration time.Duration `json:"duration"`

	// Err is the terminal error for a failed phase.
	Err error `json:"-"`
}

// RunResult reports the outcome of an orchestrator run.
type RunResult struct {
	// RunID is the identifier of the installation attempt.
	RunID string `json:"run_id"`

	// Status is the terminal run status.
	Status RunStatus `json:"status"`

	// Phases are the per-phase outcomes, in sequence order.
	Phases []PhaseResult `json:"phases"`

	// FailedPhase names the phase that halted the run, if any.
	FailedPhase string `json:"failed_phase,omitempty"`

	// Err is the error that halted the run, if any.
	Err error `json:"-"`

	// Elapsed is the total wall-clock duration of the run.
	Elapsed time.Duration `json:"elapsed"`
}

// Succeeded returns true if the run completed every phase.
func (r *RunResult) Succeeded() bool {
	return r.Status == RunStatusSucceeded
}
