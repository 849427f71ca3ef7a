// Package telemetry provides observability instrumentation for Deckhand.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry), and
// metrics (Prometheus) behind a single configuration surface.
//
// Initialize at startup:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
//	metrics, err := telemetry.NewMetrics(cfg.Metrics)
//	defer tracer.Shutdown(ctx)
//
// Component loggers carry a component field:
//
//	log := telemetry.ComponentLogger(logger, "orchestrator")
//	log.Info().Str("run_id", runID).Msg("run started")
//
// Deckhand is a short-lived CLI, so metrics are not served over HTTP; they
// are written to a Prometheus textfile at the end of the run when
// MetricsConfig.TextfilePath is set.
//
// Key metrics:
//
//   - deckhand_runs_started_total{mode}
//   - deckhand_runs_completed_total{status}
//   - deckhand_run_duration_seconds{status}
//   - deckhand_phases_executed_total{phase,status}
//   - deckhand_phase_duration_seconds{phase}
//   - deckhand_phase_attempts{phase}
//   - deckhand_backups_captured_total
//   - deckhand_backup_bytes_total
//   - deckhand_restores_applied_total{status}
//   - deckhand_errors_by_class_total{class}
//   - deckhand_errors_by_kind_total{kind}
//
// Never log secrets: resolved configuration snapshots are hashed before they
// appear in log fields.
package telemetry
