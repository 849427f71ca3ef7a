package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deckhand/deckhand/pkg/retry"
	"github.com/deckhand/deckhand/pkg/telemetry"
)

// tracerName identifies orchestrator spans in trace output.
const tracerName = "deckhand/orchestrator"

// Orchestrator sequences installation phases. Phases execute strictly
// sequentially on the calling goroutine: phase k+1 never starts before phase
// k's terminal outcome is durably persisted.
type Orchestrator struct {
	store     StateStore
	backups   BackupManager
	preflight PreflightRunner
	journal   Journal
	engine    *retry.Engine
	baseDelay time.Duration
	maxDelay  time.Duration
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// Option mutates orchestrator configuration.
type Option func(*Orchestrator)

// WithBackupManager wires the backup subsystem. Without one, destructive
// phases fail closed: a recovery point cannot be guaranteed.
func WithBackupManager(b BackupManager) Option {
	return func(o *Orchestrator) { o.backups = b }
}

// WithPreflight wires the pre-flight validation gate.
func WithPreflight(p PreflightRunner) Option {
	return func(o *Orchestrator) { o.preflight = p }
}

// WithJournal wires the run history journal.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithRetryEngine overrides the retry engine, for deterministic tests.
func WithRetryEngine(e *retry.Engine) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.engine = e
		}
	}
}

// WithBackoff sets the retry backoff window applied to every phase. Zero
// values fall back to the retry package defaults.
func WithBackoff(base, max time.Duration) Option {
	return func(o *Orchestrator) {
		o.baseDelay = base
		o.maxDelay = max
	}
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an orchestrator bound to a state store.
func New(store StateStore, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	o := &Orchestrator{
		store:  store,
		logger: zerolog.Nop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.engine == nil {
		o.engine = retry.NewEngine(retry.WithLogger(o.logger))
	}
	return o, nil
}

// RunConfig carries the resolved configuration identity for a run.
type RunConfig struct {
	// Hash is the canonical hash of the resolved configuration.
	Hash string

	// Snapshot is the resolved configuration document persisted with the
	// state so resume cannot silently use a different configuration.
	Snapshot json.RawMessage
}

// Run drives the phase list to completion. It returns a RunResult in every
// case; when the run halts, RunResult.Err carries the classified cause.
func (o *Orchestrator) Run(ctx context.Context, phases []PhaseDescriptor, cfg RunConfig, opts RunOptions) *RunResult {
	start := time.Now()
	result := &RunResult{Status: RunStatusFailed}

	if err := ValidatePhaseList(phases); err != nil {
		result.Err = NewStateStoreError("invalid phase list", err)
		return result
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.Int("phases.total", len(phases)),
			attribute.Bool("resume", opts.Resume),
		))
	defer span.End()

	st, resumed, err := o.prepareState(ctx, phases, cfg, opts)
	if err != nil {
		result.Err = err
		o.recordError(err)
		return result
	}
	result.RunID = st.RunID
	logger := o.logger.With().Str("run_id", st.RunID).Logger()

	if !opts.SkipChecks && o.preflight != nil {
		if err := o.preflight.Check(ctx); err != nil {
			logger.Error().Err(err).Msg("pre-flight validation failed")
			result.Err = NewPreflightError("environment unsuitable", err)
			o.recordError(result.Err)
			return result
		}
		logger.Info().Msg("pre-flight validation passed")
	}

	st.Status = RunStatusRunning
	if err := o.save(ctx, st); err != nil {
		result.Err = err
		return result
	}
	o.journalRunStarted(ctx, st, resumed)
	if o.metrics != nil {
		o.metrics.RecordRunStarted(resumed)
	}

	for i := range phases {
		phase := phases[i]
		pr, err := o.runPhase(ctx, st, phase, opts, logger)
		if pr != nil {
			result.Phases = append(result.Phases, *pr)
			o.journalPhase(ctx, st.RunID, *pr)
		}
		if err != nil {
			result.FailedPhase = phase.Name
			result.Err = err
			if KindOf(err) == KindCancelled {
				result.Status = RunStatusCancelled
			}
			result.Elapsed = time.Since(start)
			o.recordError(err)
			o.finishRun(ctx, st, result, logger)
			return result
		}
	}

	st.Status = RunStatusSucceeded
	if err := o.save(ctx, st); err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}
	result.Status = RunStatusSucceeded
	result.Elapsed = time.Since(start)
	o.finishRun(ctx, st, result, logger)
	logger.Info().Dur("elapsed", result.Elapsed).Msg("installation complete")
	return result
}

// prepareState loads prior state for a resume or initializes a fresh one.
func (o *Orchestrator) prepareState(ctx context.Context, phases []PhaseDescriptor, cfg RunConfig, opts RunOptions) (*InstallationState, bool, error) {
	if opts.Resume {
		st, err := o.store.Load(ctx)
		switch {
		case errors.Is(err, ErrStateNotFound):
			// Nothing to resume; degrade to a fresh run.
			o.logger.Info().Msg("no prior state found, starting fresh run")
		case err != nil:
			return nil, false, err
		default:
			if st.ConfigHash != cfg.Hash {
				return nil, false, NewConfigDriftError(fmt.Sprintf(
					"persisted configuration %s differs from supplied configuration %s; reconcile before resuming",
					st.ConfigHash, cfg.Hash))
			}
			if err := st.EnsurePhases(phases); err != nil {
				return nil, false, NewStateCorruptError("state is incompatible with the phase list", err)
			}
			o.logger.Info().Str("run_id", st.RunID).
				Int("last_phase", st.LastPhaseIndex).Msg("resuming prior run")
			return st, true, nil
		}
	} else {
		if err := o.store.Archive(ctx); err != nil {
			return nil, false, NewStateStoreError("failed to archive prior state", err)
		}
	}

	st := NewInstallationState(uuid.New().String(), cfg.Hash, cfg.Snapshot, phases)
	return st, false, nil
}

// runPhase executes one phase through backup and retry, persisting every
// transition. A nil error means the phase is satisfied and the run continues.
func (o *Orchestrator) runPhase(ctx context.Context, st *InstallationState, phase PhaseDescriptor, opts RunOptions, logger zerolog.Logger) (*PhaseResult, error) {
	plog := logger.With().Str("phase", phase.Name).Logger()

	if err := ctx.Err(); err != nil {
		// Honor aborts at phase boundaries; the persisted state already
		// reflects every completed phase.
		st.Status = RunStatusCancelled
		if serr := o.save(context.WithoutCancel(ctx), st); serr != nil {
			plog.Error().Err(serr).Msg("failed to persist state during abort")
		}
		return nil, NewCancelledError(phase.Name, err)
	}

	status := st.StatusOf(phase.Name)
	if status.Satisfied() {
		rerun := opts.ForceRerun && !phase.Idempotent && status == PhaseStatusSucceeded
		if !rerun {
			plog.Debug().Str("status", string(status)).Msg("phase already satisfied, skipping")
			return &PhaseResult{Name: phase.Name, Status: status}, nil
		}
		plog.Info().Msg("re-running non-idempotent phase on operator request")
		st.ResetPhase(phase.Name)
	}

	if phase.Destructive {
		if err := o.captureBackup(ctx, st, phase, plog); err != nil {
			// Fail closed: the destructive action never starts without a
			// verified recovery point on disk.
			st.Status = RunStatusFailed
			if serr := o.save(ctx, st); serr != nil {
				plog.Error().Err(serr).Msg("failed to persist state after backup failure")
			}
			return &PhaseResult{Name: phase.Name, Status: st.StatusOf(phase.Name), Err: err}, err
		}
	}

	if err := st.SetPhaseStatus(phase, PhaseStatusRunning); err != nil {
		return nil, NewStateStoreError("failed to mark phase running", err)
	}
	if err := o.save(ctx, st); err != nil {
		return nil, err
	}

	plog.Info().Str("label", phase.Label).Msg("phase started")
	phaseCtx, span := o.tracer.Start(ctx, "phase."+phase.Name,
		trace.WithAttributes(
			attribute.Int("phase.index", phase.Index),
			attribute.Bool("phase.destructive", phase.Destructive),
		))
	started := time.Now()
	res := o.engine.Attempt(phaseCtx, phase.Name, retry.Policy{
		MaxRetries:   phase.MaxRetries,
		BaseDelay:    o.baseDelay,
		MaxDelay:     o.maxDelay,
		Timeout:      phase.Timeout,
		TimeoutFatal: phase.TimeoutFatal,
	}, phase.Action)
	duration := time.Since(started)
	span.End()

	st.RecordAttempts(phase.Name, res.Attempts, duration)
	pr := &PhaseResult{
		Name:     phase.Name,
		Attempts: res.Attempts,
		Duration: duration,
		Err:      res.Err,
	}

	switch {
	case res.Err == nil:
		pr.Status = PhaseStatusSucceeded
		if err := st.SetPhaseStatus(phase, PhaseStatusSucceeded); err != nil {
			return pr, NewStateStoreError("failed to mark phase succeeded", err)
		}
		if err := o.save(ctx, st); err != nil {
			return pr, err
		}
		if o.metrics != nil {
			o.metrics.RecordPhaseExecution(phase.Name, string(PhaseStatusSucceeded), duration, res.Attempts)
		}
		plog.Info().Int("attempts", res.Attempts).Dur("duration", duration).Msg("phase succeeded")
		return pr, nil

	case errors.Is(res.Err, context.Canceled):
		// The phase was interrupted, not failed: leave it running so a
		// subsequent resume re-attempts it rather than assuming success.
		pr.Status = PhaseStatusRunning
		st.Status = RunStatusCancelled
		if err := o.save(context.WithoutCancel(ctx), st); err != nil {
			plog.Error().Err(err).Msg("failed to persist state during abort")
		}
		plog.Warn().Msg("phase interrupted by operator")
		return pr, NewCancelledError(phase.Name, res.Err)

	default:
		pr.Status = PhaseStatusFailed
		if err := st.SetPhaseStatus(phase, PhaseStatusFailed); err != nil {
			return pr, NewStateStoreError("failed to mark phase failed", err)
		}
		st.Status = RunStatusFailed
		if err := o.save(ctx, st); err != nil {
			return pr, err
		}
		if o.metrics != nil {
			o.metrics.RecordPhaseExecution(phase.Name, string(PhaseStatusFailed), duration, res.Attempts)
		}
		plog.Error().Int("attempts", res.Attempts).Err(res.Err).Msg("phase failed")
		ierr := &InstallError{}
		if errors.As(res.Err, &ierr) && ierr.Kind != KindPhase {
			return pr, res.Err
		}
		return pr, NewFatalError("phase "+phase.Name+" failed", res.Err).WithPhase(phase.Name)
	}
}

// captureBackup obtains a verified recovery point before a destructive phase.
func (o *Orchestrator) captureBackup(ctx context.Context, st *InstallationState, phase PhaseDescriptor, logger zerolog.Logger) error {
	if o.backups == nil {
		return NewBackupError("destructive phase "+phase.Name+" requires a backup manager", nil).WithPhase(phase.Name)
	}
	logger.Info().Msg("capturing backup before destructive phase")
	ref, err := o.backups.CaptureBefore(ctx, phase, st.Snapshot())
	if err != nil {
		var ierr *InstallError
		if errors.As(err, &ierr) {
			return err
		}
		return NewBackupError("backup capture failed", err).WithPhase(phase.Name)
	}
	if o.metrics != nil {
		o.metrics.RecordBackupCaptured(ref.TotalSize)
	}
	logger.Info().Str("backup", ref.Name).Int("artifacts", ref.Artifacts).
		Int64("size", ref.TotalSize).Msg("backup captured and verified")
	return nil
}

// save persists the state, wrapping failures in the state store error kind.
// Every terminal transition is persisted before the process may exit.
func (o *Orchestrator) save(ctx context.Context, st *InstallationState) error {
	if err := o.store.Save(ctx, st); err != nil {
		var ierr *InstallError
		if errors.As(err, &ierr) {
			return err
		}
		return NewStateStoreError("failed to persist installation state", err)
	}
	return nil
}

func (o *Orchestrator) finishRun(ctx context.Context, st *InstallationState, result *RunResult, logger zerolog.Logger) {
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(string(result.Status), result.Elapsed)
	}
	if o.journal == nil {
		return
	}
	if err := o.journal.RunFinished(context.WithoutCancel(ctx), st.RunID, result); err != nil {
		logger.Warn().Err(err).Msg("failed to journal run outcome")
	}
}

func (o *Orchestrator) journalRunStarted(ctx context.Context, st *InstallationState, resumed bool) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RunStarted(ctx, st, resumed); err != nil {
		o.logger.Warn().Err(err).Msg("failed to journal run start")
	}
}

func (o *Orchestrator) journalPhase(ctx context.Context, runID string, pr PhaseResult) {
	if o.journal == nil {
		return
	}
	if err := o.journal.PhaseAttempted(context.WithoutCancel(ctx), runID, pr); err != nil {
		o.logger.Warn().Err(err).Msg("failed to journal phase outcome")
	}
}

func (o *Orchestrator) recordError(err error) {
	if o.metrics == nil || err == nil {
		return
	}
	class := ErrorClassFatal
	if IsRetryable(err) {
		class = ErrorClassRetryable
	}
	o.metrics.RecordError(string(class), string(KindOf(err)))
}
