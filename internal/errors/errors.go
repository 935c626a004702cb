// Package errors provides structured error types for shipway.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes for shipway operations.
const (
	// State errors
	CodeStateNotFound  = "STATE_001" // Feature record missing
	CodeStateCorrupted = "STATE_002" // Unparseable persisted record
	CodeStateInvalid   = "STATE_003" // Operation against a record in the wrong state
	CodeStateConflict  = "STATE_004" // Version changed under a concurrent writer

	// Phase errors
	CodePhaseHandlerFailed = "PHASE_001" // Handler exited non-zero
	CodePhaseCriteriaUnmet = "PHASE_002" // Completion criteria not satisfied
	CodePhaseBlocked       = "PHASE_003" // Findings exceed severity policy

	// Gate errors
	CodeGateNotApproved = "GATE_001" // Gate still pending or awaiting approval
	CodeGateRejected    = "GATE_002" // Approver wrote a rejection marker

	// WIP errors
	CodeEpicNotFound     = "WIP_001" // Epic record missing
	CodeAgentNotFound    = "WIP_002" // Agent record missing
	CodeEpicInvalidState = "WIP_003" // Epic not in a state valid for the operation

	// Poll errors
	CodePollTimeout = "POLL_001" // Bounded wait budget exceeded
)

// ShipwayError is the structured error type for shipway operations.
type ShipwayError struct {
	Code    string         `json:"code"`              // Error code (e.g., "STATE_001")
	Message string         `json:"message"`           // Human-readable message
	Details map[string]any `json:"details,omitempty"` // Context (feature_id, phase, etc.)
	Cause   error          `json:"-"`                 // Wrapped error (not serialized)
}

// Error implements the error interface.
func (e *ShipwayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ShipwayError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error.
func (e *ShipwayError) WithDetail(key string, value any) *ShipwayError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error.
func (e *ShipwayError) WithCause(err error) *ShipwayError {
	e.Cause = err
	return e
}

// MarshalJSON implements json.Marshaler with cause error message.
func (e *ShipwayError) MarshalJSON() ([]byte, error) {
	type alias ShipwayError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// New creates a new ShipwayError.
func New(code, message string) *ShipwayError {
	return &ShipwayError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new ShipwayError with formatted message.
func Newf(code, format string, args ...any) *ShipwayError {
	return &ShipwayError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with a ShipwayError.
func Wrap(code, message string, err error) *ShipwayError {
	return &ShipwayError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with a formatted ShipwayError.
func Wrapf(code string, err error, format string, args ...any) *ShipwayError {
	return &ShipwayError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// --- State Errors ---

// FeatureNotFound creates an error for a missing feature record.
func FeatureNotFound(featureID string) *ShipwayError {
	return Newf(CodeStateNotFound, "feature not found: %s", featureID).
		WithDetail("feature_id", featureID)
}

// StateCorrupted creates an error for an unparseable persisted record.
// Corrupted records are never auto-repaired; operator intervention required.
func StateCorrupted(path string, err error) *ShipwayError {
	return Wrap(CodeStateCorrupted, "persisted record is corrupted", err).
		WithDetail("path", path)
}

// InvalidState creates an error for an operation against the wrong state.
func InvalidState(featureID, state, operation string) *ShipwayError {
	return Newf(CodeStateInvalid, "feature %s in state %s does not permit %s", featureID, state, operation).
		WithDetail("feature_id", featureID).
		WithDetail("state", state).
		WithDetail("operation", operation)
}

// StateConflict creates an error for a lost optimistic-locking race.
func StateConflict(featureID string, expected, actual int64) *ShipwayError {
	return Newf(CodeStateConflict, "feature %s modified concurrently: version %d, expected %d", featureID, actual, expected).
		WithDetail("feature_id", featureID).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

// --- Phase Errors ---

// PhaseHandlerFailed creates an error for a handler that exited non-zero.
// The handler's own diagnostic output is surfaced verbatim.
func PhaseHandlerFailed(phase string, exitCode int, stderr string) *ShipwayError {
	return Newf(CodePhaseHandlerFailed, "phase %s handler exited with code %d", phase, exitCode).
		WithDetail("phase", phase).
		WithDetail("exit_code", exitCode).
		WithDetail("stderr", stderr)
}

// PhaseCriteriaUnmet creates an error for unsatisfied completion criteria.
func PhaseCriteriaUnmet(phase string, missing []string) *ShipwayError {
	return Newf(CodePhaseCriteriaUnmet, "phase %s completed but required artifacts are missing", phase).
		WithDetail("phase", phase).
		WithDetail("missing", missing)
}

// PhaseBlocked creates an error for findings that exceed the severity policy.
func PhaseBlocked(phase string, critical, high int) *ShipwayError {
	return Newf(CodePhaseBlocked, "phase %s blocked: %d critical, %d high findings", phase, critical, high).
		WithDetail("phase", phase).
		WithDetail("critical", critical).
		WithDetail("high", high)
}

// --- Gate Errors ---

// GateNotApproved creates an error for a gate that has not been approved yet.
func GateNotApproved(gate string) *ShipwayError {
	return Newf(CodeGateNotApproved, "gate %s is not approved", gate).
		WithDetail("gate", gate)
}

// GateRejected creates an error for a gate the approver rejected.
func GateRejected(gate, approver string) *ShipwayError {
	return Newf(CodeGateRejected, "gate %s was rejected", gate).
		WithDetail("gate", gate).
		WithDetail("approver", approver)
}

// --- WIP Errors ---

// EpicNotFound creates an error for a missing epic record.
func EpicNotFound(epicID string) *ShipwayError {
	return Newf(CodeEpicNotFound, "epic not found: %s", epicID).
		WithDetail("epic_id", epicID)
}

// AgentNotFound creates an error for a missing agent record.
func AgentNotFound(agentID string) *ShipwayError {
	return Newf(CodeAgentNotFound, "agent not found: %s", agentID).
		WithDetail("agent", agentID)
}

// EpicInvalidState creates an error for an epic in the wrong state.
func EpicInvalidState(epicID, state, operation string) *ShipwayError {
	return Newf(CodeEpicInvalidState, "epic %s in state %s does not permit %s", epicID, state, operation).
		WithDetail("epic_id", epicID).
		WithDetail("state", state).
		WithDetail("operation", operation)
}

// --- Poll Errors ---

// PollTimeout creates an error for an exhausted wait budget.
// State is left unchanged; the operation may be retried manually.
func PollTimeout(what string, budget string) *ShipwayError {
	return Newf(CodePollTimeout, "timed out waiting for %s after %s", what, budget).
		WithDetail("waiting_for", what).
		WithDetail("budget", budget)
}

// HasCode checks if an error is a ShipwayError with the given code.
// It handles wrapped errors by unwrapping to find a ShipwayError.
func HasCode(err error, code string) bool {
	var serr *ShipwayError
	if errors.As(err, &serr) {
		return serr.Code == code
	}
	return false
}

// Code returns the error code if err is a ShipwayError, empty string otherwise.
// It handles wrapped errors by unwrapping to find a ShipwayError.
func Code(err error) string {
	var serr *ShipwayError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}
