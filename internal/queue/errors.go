package queue

import (
	"errors"
	"fmt"
)

// DefectPrefix marks a failure that the handler did not declare (a panic or an
// error that is not a *ProcessingError).
const DefectPrefix = "unexpected defect: "

// InfrastructureError wraps a failure to reach or query the job store.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("job store %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// ProcessingError is the failure a handler declares for a job it could not
// complete. Its message becomes the job's error field.
type ProcessingError struct {
	Message string
	Err     error
}

// defaultProcessingMessage stands in for a ProcessingError that carries no text.
const defaultProcessingMessage = "processing failed"

func (e *ProcessingError) Error() string {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	switch {
	case e.Message == "" && cause == "":
		return defaultProcessingMessage
	case e.Message == "":
		return cause
	case cause == "":
		return e.Message
	}
	return e.Message + ": " + cause
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// NewProcessingError creates a declared handler failure.
func NewProcessingError(format string, args ...any) error {
	return &ProcessingError{Message: fmt.Sprintf(format, args...)}
}

// WrapProcessingError declares err as a handler failure with extra context.
func WrapProcessingError(err error, message string) error {
	return &ProcessingError{Message: message, Err: err}
}

// IsInfrastructure reports whether err came from the job store itself.
func IsInfrastructure(err error) bool {
	var infraErr *InfrastructureError
	return errors.As(err, &infraErr)
}

// failureMessage converts a handler error into the text stored on the job.
func failureMessage(err error) string {
	var procErr *ProcessingError
	if errors.As(err, &procErr) {
		return procErr.Error()
	}
	return DefectPrefix + err.Error()
}

// defectError is produced when a handler panics.
type defectError struct {
	recovered any
}

func (e *defectError) Error() string {
	return fmt.Sprintf("panic: %v", e.recovered)
}
