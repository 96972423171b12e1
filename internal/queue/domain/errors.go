package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status update is not allowed from the job's current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidPayload is returned when job payload JSON is malformed
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrInvalidJob is returned when a job is enqueued without a type or owner
	ErrInvalidJob = errors.New("invalid job")

	// ErrInvalidQuery is returned for a malformed job listing request
	ErrInvalidQuery = errors.New("invalid job query")

	// ErrUnstorable is returned by a store that rejected a value, such as a
	// NUL character in a result or error message
	ErrUnstorable = errors.New("value cannot be stored")
)

// JobNotFoundError carries the id of the job that does not exist
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return "job not found: " + e.JobID
}

// Is makes errors.Is(err, ErrJobNotFound) hold for every JobNotFoundError
func (e *JobNotFoundError) Is(target error) bool {
	return target == ErrJobNotFound
}

// NewJobNotFoundError creates a not-found error for jobID
func NewJobNotFoundError(jobID string) error {
	return &JobNotFoundError{JobID: jobID}
}
