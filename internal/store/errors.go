package store

import (
	"errors"
	"fmt"
)

// StepErrorCode categorizes failures of a single store operation.
type StepErrorCode string

const (
	// CodeStepExecution indicates a statement could not execute at all
	// (connectivity, syntax, closed transaction). Scenario-fatal.
	CodeStepExecution StepErrorCode = "STEP_EXECUTION"

	// CodeSerializationFailure indicates the store refused a commit or
	// write because it could not keep the transaction consistent with a
	// serial order. An expected, recoverable outcome for some scenarios.
	CodeSerializationFailure StepErrorCode = "SERIALIZATION_FAILURE"

	// CodeLockTimeout indicates a blocking wait exceeded its budget,
	// typically a writer queued behind another writer's row lock.
	// Recoverable, same as a serialization failure.
	CodeLockTimeout StepErrorCode = "LOCK_TIMEOUT"
)

// StepError is a classified failure of one store operation.
//
// The orchestrator treats CodeSerializationFailure and CodeLockTimeout as
// data (recorded step outcomes) and everything else as scenario-fatal.
type StepError struct {
	// Code identifies the failure category.
	Code StepErrorCode

	// Op names the operation that failed ("commit", "update", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying driver error, if any.
	Err error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a StepError with the given classification.
func NewStepError(code StepErrorCode, op, message string, err error) *StepError {
	return &StepError{Code: code, Op: op, Message: message, Err: err}
}

// CodeOf extracts the step error code from an error chain.
// Unclassified errors report CodeStepExecution.
func CodeOf(err error) StepErrorCode {
	var se *StepError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeStepExecution
}

// IsSerializationFailure reports whether the error is a commit-time or
// write-time serialization conflict. Uses errors.As to handle wrapping.
func IsSerializationFailure(err error) bool {
	return CodeOf(err) == CodeSerializationFailure
}

// IsLockTimeout reports whether the error is a bounded-wait expiry.
func IsLockTimeout(err error) bool {
	return CodeOf(err) == CodeLockTimeout
}

// IsRecoverable reports whether the orchestrator may record the error as
// a step outcome and continue the run.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeSerializationFailure, CodeLockTimeout:
		return true
	}
	return false
}
