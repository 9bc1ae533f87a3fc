package engine

import (
	"errors"
	"fmt"

	"github.com/justindthomas/imp/pkg/alloc"
	"github.com/justindthomas/imp/pkg/config"
)

// ErrorClass classifies an error by the stage of the apply cycle that raised it.
type ErrorClass string

const (
	// ErrorClassValidation indicates the new snapshot or the planned change set
	// was rejected before anything was executed.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassDependency indicates the planner found a dependency cycle.
	ErrorClassDependency ErrorClass = "dependency"

	// ErrorClassExecution indicates a command was rejected by its target.
	ErrorClassExecution ErrorClass = "execution"

	// ErrorClassTimeout indicates a command did not complete within its deadline.
	// Timeouts are execution errors.
	ErrorClassTimeout ErrorClass = "timeout"

	// ErrorClassResourceExhaustion indicates the allocator could not satisfy
	// module minimums from the host topology.
	ErrorClassResourceExhaustion ErrorClass = "resource_exhaustion"

	// ErrorClassInternal indicates a bug or an unexpected store failure.
	ErrorClassInternal ErrorClass = "internal"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the entity key that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Code: ErrCodeValidation, Message: message, Err: err}
}

// NewDependencyError creates a new dependency error.
func NewDependencyError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassDependency, Code: ErrCodeDependencyCycle, Message: message, Err: err}
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassExecution, Code: ErrCodeCommandFailed, Message: message, Err: err}
}

// NewTimeoutError creates a new timeout error.
func NewTimeoutError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTimeout, Code: ErrCodeTimeout, Message: message, Err: err}
}

// NewResourceExhaustionError creates a new resource exhaustion error.
func NewResourceExhaustionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassResourceExhaustion, Code: ErrCodeExhausted, Message: message, Err: err}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInternal, Code: ErrCodeInternal, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func hasClass(err error, classes ...ErrorClass) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range classes {
		if e.Class == c {
			return true
		}
	}
	return false
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsDependency returns true if the error is classified as a dependency cycle.
func IsDependency(err error) bool {
	return hasClass(err, ErrorClassDependency)
}

// IsExecution returns true for execution errors, timeouts included.
func IsExecution(err error) bool {
	return hasClass(err, ErrorClassExecution, ErrorClassTimeout)
}

// IsTimeout returns true if the error is classified as a timeout.
func IsTimeout(err error) bool {
	return hasClass(err, ErrorClassTimeout)
}

// IsResourceExhaustion returns true if the allocator ran out of cores or links.
func IsResourceExhaustion(err error) bool {
	return hasClass(err, ErrorClassResourceExhaustion)
}

// classify wraps errors from collaborating packages into engine errors.
func classify(message string, err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return NewValidationError(message, err).WithDetail("violations", len(verr.Violations))
	}
	var xerr *alloc.ExhaustionError
	if errors.As(err, &xerr) {
		return NewResourceExhaustionError(message, err).
			WithResource(string(xerr.Resource)).
			WithDetail("requested", xerr.Requested).
			WithDetail("available", xerr.Available)
	}
	return NewInternalError(message, err)
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodePolicyDenied    = "POLICY_DENIED"
	ErrCodeDependencyCycle = "DEPENDENCY_CYCLE"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeExhausted       = "RESOURCE_EXHAUSTED"
	ErrCodeCancelled       = "CANCELLED"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodePersistFailed   = "PERSIST_FAILED"
)

// ErrCycleInProgress is returned when a non-dry-run cycle is requested while
// another one holds the apply guard.
var ErrCycleInProgress = errors.New("an apply cycle is already in progress")
