package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Policy configures retry behavior for one phase invocation.
// Backoff is exponential with a ceiling: attempt n waits
// min(BaseDelay * 2^(n-1), MaxDelay) before running.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first.
	// Exhausting it converts a retryable failure to fatal.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Timeout bounds each individual attempt. Zero means unbounded.
	Timeout time.Duration

	// TimeoutFatal treats an attempt timeout as fatal instead of retryable.
	TimeoutFatal bool
}

// DefaultBaseDelay is used when a policy leaves BaseDelay unset.
const DefaultBaseDelay = 2 * time.Second

// DefaultMaxDelay is used when a policy leaves MaxDelay unset.
const DefaultMaxDelay = 60 * time.Second

// BackoffDelay computes the wait before the given 1-based retry attempt.
// It is a pure function of the attempt number and policy so it can be tested
// without real delays.
func BackoffDelay(attempt int, p Policy) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	ceil := p.MaxDelay
	if ceil <= 0 {
		ceil = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}

// Sleeper blocks for the given duration or until the context is cancelled.
// Tests inject a non-sleeping implementation.
type Sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Context carries the per-attempt counters for a single phase invocation.
// It is held only in memory: a resumed run starts counting at zero.
type Context struct {
	// Attempt is the current 1-based attempt number.
	Attempt int

	// LastErr is the most recent attempt failure.
	LastErr error

	// NextDelay is the backoff that will precede the next attempt.
	NextDelay time.Duration
}

// Result reports the terminal outcome of Attempt.
type Result struct {
	// Attempts is the number of attempts that were made.
	Attempts int

	// Err is nil on success; otherwise the terminal error, with retryable
	// failures already escalated to fatal once retries are exhausted.
	Err error
}

// Engine executes actions with classified-failure retry. Error classification
// is supplied by the action itself: only the action knows whether its failure
// mode is transient.
type Engine struct {
	sleep  Sleeper
	logger zerolog.Logger
}

// Option mutates engine configuration.
type Option func(*Engine)

// WithSleeper overrides the backoff sleeper, for deterministic tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a retry engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		sleep:  realSleep,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// errTimeout marks an attempt that exceeded its per-attempt timeout.
type errTimeout struct {
	name    string
	timeout time.Duration
	fatal   bool
}

func (e *errTimeout) Error() string {
	return fmt.Sprintf("%s: attempt timed out after %s", e.name, e.timeout)
}

// Retryable implements the classification contract for timeouts.
func (e *errTimeout) Retryable() bool {
	return !e.fatal
}

// IsTimeout reports whether the error chain contains an attempt timeout.
func IsTimeout(err error) bool {
	var t *errTimeout
	return errors.As(err, &t)
}

// errExhausted caps an escalated failure once retries run out. It sits at the
// head of the chain so classification stops seeing the inner retryable error.
type errExhausted struct {
	name     string
	attempts int
	err      error
}

func (e *errExhausted) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.name, e.attempts, e.err)
}

func (e *errExhausted) Unwrap() error {
	return e.err
}

// Retryable implements the classification contract: exhaustion is fatal.
func (e *errExhausted) Retryable() bool {
	return false
}

// retryable extracts the action-supplied classification from an error chain.
// Unclassified errors are fatal: the engine never guesses.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Attempt runs the action under the policy until it succeeds, fails fatally,
// exhausts retries, or the parent context is cancelled. Backoff waits are
// blocking sleeps on the calling goroutine; no other work proceeds meanwhile.
func (e *Engine) Attempt(ctx context.Context, name string, p Policy, action func(context.Context) error) Result {
	rc := Context{}
	maxAttempts := p.MaxRetries + 1

	for rc.Attempt = 1; rc.Attempt <= maxAttempts; rc.Attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: rc.Attempt - 1, Err: err}
		}

		err := e.runOnce(ctx, name, p, action)
		if err == nil {
			return Result{Attempts: rc.Attempt}
		}
		rc.LastErr = err

		if !retryable(err) {
			e.logger.Error().Str("phase", name).Int("attempt", rc.Attempt).
				Err(err).Msg("fatal failure, not retrying")
			return Result{Attempts: rc.Attempt, Err: err}
		}
		if rc.Attempt == maxAttempts {
			e.logger.Error().Str("phase", name).Int("attempts", rc.Attempt).
				Err(err).Msg("retries exhausted, escalating to fatal")
			return Result{
				Attempts: rc.Attempt,
				Err:      &errExhausted{name: name, attempts: rc.Attempt, err: err},
			}
		}

		rc.NextDelay = BackoffDelay(rc.Attempt, p)
		e.logger.Warn().Str("phase", name).Int("attempt", rc.Attempt).
			Dur("backoff", rc.NextDelay).Err(err).Msg("retryable failure, backing off")
		if err := e.sleep(ctx, rc.NextDelay); err != nil {
			return Result{Attempts: rc.Attempt, Err: err}
		}
	}

	// Unreachable: the loop always returns.
	return Result{Attempts: maxAttempts, Err: rc.LastErr}
}

// runOnce executes a single time-bounded attempt.
func (e *Engine) runOnce(ctx context.Context, name string, p Policy, action func(context.Context) error) error {
	if p.Timeout <= 0 {
		return action(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := action(attemptCtx)
	if err == nil {
		return nil
	}
	// Distinguish a per-attempt timeout from parent cancellation: the parent
	// error propagates untouched so the orchestrator sees the abort.
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded) {
		return &errTimeout{name: name, timeout: p.Timeout, fatal: p.TimeoutFatal}
	}
	return err
}
