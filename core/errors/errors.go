// Package errors defines the small set of error kinds the core surfaces to
// callers (spec §7), grounded on the teacher's model.ProviderError pattern
// (goa-ai runtime/agent/model/provider_error.go).
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a core failure into one of the categories from spec §7.
// Callers switch on Kind to decide retry/surface policy; they should not
// pattern-match on Error() strings.
type Kind string

const (
	// Validation indicates bad inputs (schema, unknown model). Never retried.
	Validation Kind = "validation_error"
	// NoCandidate indicates the router exhausted candidates after filters and
	// the fallback. Surfaced to the caller.
	NoCandidate Kind = "no_candidate"
	// Upstream indicates a provider network/HTTP/SDK error. Retried with
	// exponential backoff up to a task's max retries.
	Upstream Kind = "upstream_error"
	// RateLimited indicates the rate limiter denied the call.
	RateLimited Kind = "rate_limited"
	// Timeout indicates a per-task or per-workflow deadline expired.
	Timeout Kind = "timeout"
	// Cancelled indicates a cancellation flag was observed or the caller
	// requested cancellation.
	Cancelled Kind = "cancelled"
	// Deadlock indicates a task DAG has unsatisfiable pending tasks.
	Deadlock Kind = "deadlock"
	// ConsentDenied indicates the consent gate rejected a tool invocation.
	ConsentDenied Kind = "consent_denied"
	// Integrity indicates the model registry is missing required models at
	// startup. The process aborts on this error.
	Integrity Kind = "integrity_error"
)

// Error is the core's structured error type. It carries the failure Kind,
// the component that raised it, an optional cause, and whether a retry
// without changing the request might succeed.
type Error struct {
	kind      Kind
	component string
	message   string
	retryable bool
	cause     error
}

// New constructs an *Error. kind is required; component identifies the
// subsystem that raised the error (e.g. "router", "agent_runtime").
func New(kind Kind, component, message string, retryable bool, cause error) *Error {
	if kind == "" {
		panic("errors: kind is required")
	}
	return &Error{kind: kind, component: component, message: message, retryable: retryable, cause: cause}
}

// Kind returns the coarse-grained error classification.
func (e *Error) Kind() Kind { return e.kind }

// Component returns the subsystem that raised the error.
func (e *Error) Component() string { return e.component }

// Retryable reports whether retrying the call may succeed unchanged.
func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Error() string {
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = string(e.kind)
	}
	if e.component == "" {
		return fmt.Sprintf("%s: %s", e.kind, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.component, e.kind, msg)
}

// Unwrap returns the underlying cause to preserve the original error chain.
func (e *Error) Unwrap() error { return e.cause }

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ce, ok := As(err)
	return ok && ce.kind == kind
}
