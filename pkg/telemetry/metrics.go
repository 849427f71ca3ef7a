package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for Deckhand installations.
// All record methods are safe on a disabled (nil-collector) instance.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Phase metrics
	phasesExecuted *prometheus.CounterVec
	phaseDuration  *prometheus.HistogramVec
	phaseAttempts  *prometheus.HistogramVec

	// Backup metrics
	backupsCaptured prometheus.Counter
	backupBytes     prometheus.Counter
	restoresApplied *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByKind  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800}
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of installation runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of installation runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of installation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		phasesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phases_executed_total",
				Help:      "Total number of phases executed",
			},
			[]string{"phase", "status"},
		),
		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_duration_seconds",
				Help:      "Duration of phase execution in seconds",
				Buckets:   buckets,
			},
			[]string{"phase"},
		),
		phaseAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "phase_attempts",
				Help:      "Number of attempts per phase execution",
				Buckets:   []float64{1, 2, 3, 4, 5, 8, 10},
			},
			[]string{"phase"},
		),

		backupsCaptured: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backups_captured_total",
				Help:      "Total number of backups captured before destructive phases",
			},
		),
		backupBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backup_bytes_total",
				Help:      "Total bytes captured into backups",
			},
		),
		restoresApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restores_applied_total",
				Help:      "Total number of restore operations",
			},
			[]string{"status"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by retry classification",
			},
			[]string{"class"},
		),
		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_kind_total",
				Help:      "Total number of errors by contract kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.phasesExecuted,
		m.phaseDuration,
		m.phaseAttempts,
		m.backupsCaptured,
		m.backupBytes,
		m.restoresApplied,
		m.errorsByClass,
		m.errorsByKind,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(resumed bool) {
	if m.runsStarted == nil {
		return
	}
	mode := "fresh"
	if resumed {
		mode = "resume"
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPhaseExecution records the terminal outcome of one phase execution.
func (m *Metrics) RecordPhaseExecution(phase, status string, duration time.Duration, attempts int) {
	if m.phasesExecuted == nil {
		return
	}
	m.phasesExecuted.WithLabelValues(phase, status).Inc()
	m.phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
	m.phaseAttempts.WithLabelValues(phase).Observe(float64(attempts))
}

// RecordBackupCaptured records a verified backup capture.
func (m *Metrics) RecordBackupCaptured(sizeBytes int64) {
	if m.backupsCaptured == nil {
		return
	}
	m.backupsCaptured.Inc()
	m.backupBytes.Add(float64(sizeBytes))
}

// RecordRestore records a restore operation outcome.
func (m *Metrics) RecordRestore(status string) {
	if m.restoresApplied == nil {
		return
	}
	m.restoresApplied.WithLabelValues(status).Inc()
}

// RecordError records an error by class and kind.
func (m *Metrics) RecordError(class, kind string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(class).Inc()
	if kind != "" && m.errorsByKind != nil {
		m.errorsByKind.WithLabelValues(kind).Inc()
	}
}

// WriteTextfile dumps the registry to a Prometheus textfile at the configured
// path. An installer has no long-lived scrape endpoint; the node exporter
// textfile collector picks the file up instead.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	return prometheus.WriteToTextfile(m.config.TextfilePath, m.registry)
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
