package domain

import "errors"

// Common domain errors
var (
	ErrEmptyInput         = errors.New("raw input is empty")
	ErrInvalidState       = errors.New("invalid run state")
	ErrStepBoundExceeded  = errors.New("step bound exceeded")
	ErrUnknownDestination = errors.New("unknown destination")
	ErrCapability         = errors.New("capability call failed")
	ErrConfigInvalid      = errors.New("invalid configuration")
)

// Error codes surfaced through ErrorResponse.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeEngineFault    = "ENGINE_FAULT"
	CodeCancelled      = "CANCELLED"
	CodeInternal       = "INTERNAL"
)

// DomainError wraps errors with additional context.
//
//nolint:revive // Name is intentionally verbose to distinguish domain-layer errors
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// ErrorResponse defines the standard JSON error model returned by the run API.
// TraceID carries the current OpenTelemetry trace identifier when available.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
	State   *State `json:"state,omitempty"`
}
