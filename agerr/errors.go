// Package agerr provides the structured error taxonomy shared by every
// orchestration subsystem, so callers can branch on Kind without parsing
// message strings.
package agerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	KindInput               Kind = "input_error"
	KindPayloadTooLarge      Kind = "payload_too_large"
	KindCyclicGraph          Kind = "cyclic_graph"
	KindMissingProducer      Kind = "missing_producer"
	KindWorkerUnavailable    Kind = "worker_unavailable"
	KindTimeout              Kind = "timeout"
	KindWorkerExitError      Kind = "worker_exit_error"
	KindCheckpointFailed     Kind = "checkpoint_failed"
	KindReworkExhausted      Kind = "rework_exhausted"
	KindLoopDetected         Kind = "loop_detected"
	KindCancelled            Kind = "cancelled"
	KindLLMError             Kind = "llm_error"
	KindInternal             Kind = "internal"
)

// Error is the structured error type used across the module.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is/As traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by Kind and Code, ignoring Message/Cause/Details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail attaches contextual key/value data.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newErr(kind Kind, code, message string, retryable bool) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Retryable: retryable}
}

// New creates an error of the given kind with default non-retryable behavior.
func New(kind Kind, code, message string) *Error {
	return newErr(kind, code, message, false)
}

// Input creates an InputError for malformed requests or unparsable user text.
func Input(code, message string) *Error { return newErr(KindInput, code, message, false) }

// PayloadTooLarge creates a PayloadTooLarge error.
func PayloadTooLarge(message string) *Error {
	return newErr(KindPayloadTooLarge, "PAYLOAD_TOO_LARGE", message, false)
}

// CyclicGraph creates a CyclicGraph error.
func CyclicGraph(message string) *Error {
	return newErr(KindCyclicGraph, "CYCLIC_GRAPH", message, false)
}

// MissingProducer creates a MissingProducer warning-class error. The graph
// engine only records it as a warning; nothing reads
// config.GraphConfig.FatalMissingProducer to make it fatal.
func MissingProducer(message string) *Error {
	return newErr(KindMissingProducer, "MISSING_PRODUCER", message, false)
}

// WorkerUnavailable creates a WorkerUnavailable error (no worker met the
// minimum assignment confidence).
func WorkerUnavailable(message string) *Error {
	return newErr(KindWorkerUnavailable, "WORKER_UNAVAILABLE", message, false)
}

// TimeoutKind distinguishes the two invocation timeout classes.
type TimeoutKind string

const (
	TimeoutRuntime     TimeoutKind = "runtime"
	TimeoutInactivity  TimeoutKind = "inactivity"
)

// Timeout creates a Timeout error tagged with which limit was exceeded.
func Timeout(kind TimeoutKind, message string) *Error {
	return newErr(KindTimeout, "TIMEOUT", message, true).WithDetail("timeout_kind", string(kind))
}

// WorkerExitError creates a WorkerExitError for a non-zero subprocess exit.
func WorkerExitError(exitCode int, message string) *Error {
	return newErr(KindWorkerExitError, "WORKER_EXIT_ERROR", message, true).WithDetail("exit_code", exitCode)
}

// CheckpointFailed creates a CheckpointFailed error (quality gate rejection).
func CheckpointFailed(message string) *Error {
	return newErr(KindCheckpointFailed, "CHECKPOINT_FAILED", message, false)
}

// ReworkExhausted creates a ReworkExhausted error (attempt cap exceeded).
func ReworkExhausted(taskID string, attempts int) *Error {
	return newErr(KindReworkExhausted, "REWORK_EXHAUSTED",
		fmt.Sprintf("task %s exceeded max rework attempts (%d)", taskID, attempts), false).
		WithDetail("task_id", taskID).WithDetail("attempts", attempts)
}

// LoopDetected creates a LoopDetected error (global invocation cap exceeded).
func LoopDetected(cap int) *Error {
	return newErr(KindLoopDetected, "LOOP_DETECTED",
		fmt.Sprintf("global invocation cap (%d) exceeded", cap), false).
		WithDetail("global_cap", cap)
}

// Cancelled creates a Cancelled error (caller-initiated termination).
func Cancelled(message string) *Error {
	return newErr(KindCancelled, "CANCELLED", message, false)
}

// LLMErr creates a transient LLMError (subject to retry-then-fallback).
func LLMErr(message string) *Error {
	return newErr(KindLLMError, "LLM_ERROR", message, true)
}

// Internal creates a fatal Internal invariant-violation error.
func Internal(message string) *Error {
	return newErr(KindInternal, "INTERNAL", message, false)
}

// IsRetryable reports whether err (or a wrapped *Error) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HasKind reports whether err (or a wrapped *Error) has the given Kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
