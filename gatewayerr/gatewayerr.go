// Package gatewayerr defines the error taxonomy shared across the gateway's
// subsystems: every error that crosses a package boundary (router, retry
// engine, CLI proxy, async manager, orchestrator) is either a *Error or is
// wrapped into one before it reaches the caller.
package gatewayerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the taxonomy from the gateway's error handling design.
type Kind string

const (
	KindAuth                 Kind = "auth"
	KindRateLimit            Kind = "rate_limit"
	KindTimeout              Kind = "timeout"
	KindProviderUnavailable  Kind = "provider_unavailable"
	KindBadRequest           Kind = "bad_request"
	KindValidationFailed     Kind = "validation_failed"
	KindCircuitOpen          Kind = "circuit_open"
	KindHumanReviewRequired  Kind = "human_review_required"
	KindCancelled            Kind = "cancelled"
	KindInternal             Kind = "internal"
)

// Retryable reports whether the retry engine's circuit breaker should count
// an error of this kind as a failure and whether the engine should attempt
// another invocation at all. auth/bad_request/validation_failed/
// circuit_open/human_review_required/cancelled are all terminal for a given
// call; rate_limit/timeout/provider_unavailable are the retryable kinds.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

// AttemptSummary records the outcome of a single retry-engine attempt for
// inclusion in the user-visible error surface.
type AttemptSummary struct {
	Attempt    int           `json:"attempt"`
	Stage      string        `json:"stage"`
	Kind       Kind          `json:"kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Valid      bool          `json:"valid"`
	Reasoning  string        `json:"reasoning,omitempty"`
	DelayTaken time.Duration `json:"delay_taken"`
}

// DiagnosticReport is attached to auth errors; see the diagnostics package
// for its producer.
type DiagnosticReport struct {
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Summary     string   `json:"summary"`
	Causes      []string `json:"likely_causes"`
	Remediation []string `json:"remediation"`
	ClockDrift  *time.Duration `json:"clock_drift,omitempty"`
}

// Error is the structured error surfaced to callers of the gateway.
type Error struct {
	Kind       Kind
	Message    string
	Attempts   []AttemptSummary
	Diagnostic *DiagnosticReport
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// As extracts a *Error from err, if present.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, otherwise
// KindInternal.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return KindInternal
}
