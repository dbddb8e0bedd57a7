// Package engine provides the core of the stackherd deployment orchestrator:
// dependency resolution, recovery policy, and grouped concurrent execution.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary service unavailability.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	// Should be retried with exponential backoff.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a resource state conflict.
	// Examples: concurrent stack updates, state lock contention.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid configuration, permission denied, resource already exists.
	ErrorClassPermanent ErrorClass = "permanent"
)

// DeploymentError is a classified error carrying unit and operation context.
type DeploymentError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Unit is the deployment unit that caused the error, if applicable.
	Unit string `json:"unit,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DeploymentError) Error() string {
	if e.Unit != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (unit=%s, operation=%s): %s",
			e.Class, e.Message, e.Unit, e.Operation, e.unwrapMessage())
	}
	if e.Unit != "" {
		return fmt.Sprintf("[%s] %s (unit=%s): %s", e.Class, e.Message, e.Unit, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *DeploymentError) Unwrap() error {
	return e.Err
}

func (e *DeploymentError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *DeploymentError) Is(target error) bool {
	t, ok := target.(*DeploymentError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *DeploymentError {
	return &DeploymentError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *DeploymentError {
	return &DeploymentError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *DeploymentError {
	return &DeploymentError{Class: ErrorClassConflict, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *DeploymentError {
	return &DeploymentError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithUnit adds deployment unit context to an error.
func (e *DeploymentError) WithUnit(name string) *DeploymentError {
	e.Unit = name
	return e
}

// WithOperation adds operation context to an error.
func (e *DeploymentError) WithOperation(operation string) *DeploymentError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *DeploymentError) WithCode(code string) *DeploymentError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *DeploymentError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *DeploymentError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *DeploymentError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *DeploymentError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// MissingDependencyError indicates a unit declares a dependency on a unit
// that is not present in the unit set.
type MissingDependencyError struct {
	// Unit is the dependent unit.
	Unit string
	// Dependency is the missing dependency name.
	Dependency string
}

// Error implements the error interface.
func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("unit %q depends on undeclared unit %q", e.Unit, e.Dependency)
}

// CycleError indicates the dependency relation contains a cycle.
type CycleError struct {
	// Units is the cycle path; the first and last entries are the same unit.
	Units []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Units, " -> "))
}

// DuplicateUnitError indicates two units share the same name.
type DuplicateUnitError struct {
	// Name is the duplicated unit name.
	Name string
}

// Error implements the error interface.
func (e *DuplicateUnitError) Error() string {
	return fmt.Sprintf("duplicate deployment unit name: %q", e.Name)
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCredential       = "CREDENTIAL_ERROR"
	ErrCodePolicy           = "POLICY_VIOLATION"
	ErrCodeAlreadyExists    = "ALREADY_EXISTS"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeProvisioner      = "PROVISIONER_FAILED"
	ErrCodeRollback         = "ROLLBACK_FAILED"
)
