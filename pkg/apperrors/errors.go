package apperrors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrNotCompleted     = errors.New("job has not completed")
	ErrNotTerminal      = errors.New("job is still active")
	ErrInvalidOverrides = errors.New("invalid analysis overrides")
	ErrInvalidAsset     = errors.New("invalid asset reference")
	ErrShuttingDown     = errors.New("orchestrator is shutting down")
)

// Kind classifies a failure recorded on a job.
type Kind string

const (
	KindUnrecognizedAsset Kind = "UnrecognizedAssetError"
	KindAnalyzer          Kind = "AnalyzerError"
	KindIncompleteProfile Kind = "IncompleteProfileError"
	KindTransientIO       Kind = "TransientIOError"
	KindTimeout           Kind = "TimeoutError"
	KindBackpressure      Kind = "BackpressureError"
	KindCancelled         Kind = "Cancelled"
	KindInternal          Kind = "InternalError"
)

// IsDataProblem reports whether the kind points at the asset rather than the system.
func (k Kind) IsDataProblem() bool {
	switch k {
	case KindUnrecognizedAsset, KindAnalyzer, KindIncompleteProfile:
		return true
	}
	return false
}

// Error is a classified failure of the profiling pipeline or the orchestrator.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: KindTimeout}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

func newError(kind Kind, retryable bool, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:      kind,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
		Cause:     cause,
	}
}

// UnrecognizedAsset reports that no analyzer can handle the asset.
func UnrecognizedAsset(format string, args ...any) *Error {
	return newError(KindUnrecognizedAsset, false, nil, format, args...)
}

// Analyzer reports a fatal failure of a modality or column analyzer.
func Analyzer(cause error, format string, args ...any) *Error {
	return newError(KindAnalyzer, false, cause, format, args...)
}

// IncompleteProfile reports that a required profile section is missing.
func IncompleteProfile(format string, args ...any) *Error {
	return newError(KindIncompleteProfile, false, nil, format, args...)
}

// TransientIO reports a retryable I/O failure.
func TransientIO(cause error, format string, args ...any) *Error {
	return newError(KindTransientIO, true, cause, format, args...)
}

// Timeout reports that a job exceeded its budget.
func Timeout(format string, args ...any) *Error {
	return newError(KindTimeout, false, context.DeadlineExceeded, format, args...)
}

// Backpressure reports that the submission queue is full.
func Backpressure(capacity int) *Error {
	return newError(KindBackpressure, false, nil, "job queue is full (capacity %d)", capacity)
}

// Cancelled reports a cancelled job.
func Cancelled(format string, args ...any) *Error {
	return newError(KindCancelled, false, context.Canceled, format, args...)
}

// KindOf classifies any error. Errors outside the taxonomy are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Message returns the error text without the leading kind prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return strings.TrimPrefix(e.Error(), string(e.Kind)+": ")
	}
	return err.Error()
}
