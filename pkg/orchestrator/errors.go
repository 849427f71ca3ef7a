// Package orchestrator provides the core types and the phase sequencer for the
// Deckhand installation engine. It drives an ordered list of phases through
// retry, backup, and durable state persistence.
package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry logic.
type ErrorClass string

const (
	// ErrorClassRetryable indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, registry contention, apt lock held.
	ErrorClassRetryable ErrorClass = "retryable"

	// ErrorClassFatal indicates a non-recoverable error.
	// Examples: invalid configuration, permission denied, missing binaries.
	ErrorClassFatal ErrorClass = "fatal"
)

// ErrorKind identifies which part of the installation contract an error
// violates. The CLI maps kinds to distinct exit codes.
type ErrorKind string

const (
	// KindPreflight indicates the environment failed pre-flight validation.
	KindPreflight ErrorKind = "preflight"

	// KindConfigDrift indicates a resume was attempted with a configuration
	// that differs from the persisted snapshot.
	KindConfigDrift ErrorKind = "config_drift"

	// KindPhase indicates a phase action failed.
	KindPhase ErrorKind = "phase"

	// KindBackup indicates backup capture failed before a destructive phase.
	KindBackup ErrorKind = "backup"

	// KindRestore indicates a restore was rejected or failed verification.
	KindRestore ErrorKind = "restore"

	// KindStateCorrupt indicates the persisted state is unreadable or has an
	// incompatible schema version.
	KindStateCorrupt ErrorKind = "state_corrupt"

	// KindStateStore indicates an I/O failure in the state store.
	KindStateStore ErrorKind = "state_store"

	// KindCancelled indicates the operator aborted the run.
	KindCancelled ErrorKind = "cancelled"
)

// InstallError represents a classified error with installation context.
type InstallError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Kind identifies the contract the error belongs to.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Phase is the phase name that caused the error, if applicable.
	Phase string `json:"phase,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("[%s/%s] %s (phase=%s)%s", e.Class, e.Kind, e.Message, e.Phase, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s/%s] %s%s", e.Class, e.Kind, e.Message, e.unwrapSuffix())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *InstallError) Unwrap() error {
	return e.Err
}

func (e *InstallError) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Kind == t.Kind
}

// Retryable reports whether the error may succeed on a later attempt.
// The retry engine uses this to decide between backoff and escalation.
func (e *InstallError) Retryable() bool {
	return e.Class == ErrorClassRetryable
}

// WithPhase adds phase context to an error.
func (e *InstallError) WithPhase(phase string) *InstallError {
	e.Phase = phase
	return e
}

// NewRetryableError creates a new retryable phase error.
func NewRetryableError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassRetryable,
		Kind:    KindPhase,
		Message: message,
		Err:     err,
	}
}

// NewFatalError creates a new fatal phase error.
func NewFatalError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindPhase,
		Message: message,
		Err:     err,
	}
}

// NewPreflightError creates an error for a failed pre-flight validation.
func NewPreflightError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindPreflight,
		Message: message,
		Err:     err,
	}
}

// NewConfigDriftError creates an error for a resume configuration mismatch.
func NewConfigDriftError(message string) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindConfigDrift,
		Message: message,
	}
}

// NewBackupError creates an error for a failed backup capture.
func NewBackupError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindBackup,
		Message: message,
		Err:     err,
	}
}

// NewRestoreError creates an error for a rejected or failed restore.
func NewRestoreError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindRestore,
		Message: message,
		Err:     err,
	}
}

// NewStateCorruptError creates an error for unreadable or schema-incompatible
// persisted state. The orchestrator surfaces this instead of auto-resetting.
func NewStateCorruptError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindStateCorrupt,
		Message: message,
		Err:     err,
	}
}

// NewStateStoreError creates an error for a state store I/O failure.
func NewStateStoreError(message string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindStateStore,
		Message: message,
		Err:     err,
	}
}

// NewCancelledError creates an error for an operator-initiated abort.
func NewCancelledError(phase string, err error) *InstallError {
	return &InstallError{
		Class:   ErrorClassFatal,
		Kind:    KindCancelled,
		Message: "run aborted by operator",
		Phase:   phase,
		Err:     err,
	}
}

// IsRetryable returns true if the error is classified as retryable.
// Unclassified errors are treated as fatal: only the phase action knows
// whether its failure mode is transient, so the engine never guesses.
func IsRetryable(err error) bool {
	var e *InstallError
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// IsFatal returns true if the error is classified as fatal or unclassified.
func IsFatal(err error) bool {
	return err != nil && !IsRetryable(err)
}

// KindOf extracts the error kind from an error chain.
// Unclassified errors report KindPhase.
func KindOf(err error) ErrorKind {
	var e *InstallError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPhase
}
