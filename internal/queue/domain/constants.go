package domain

// Status is the lifecycle state of a job row.
type Status string

// Job status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobType identifies the kind of work a job carries. The set is open: new types
// only need a handler registered on the worker side.
type JobType string

// Job types known to this deployment
const (
	JobTypeGenerateScript JobType = "generate-script"
	JobTypeGenerateAudio  JobType = "generate-audio"
	JobTypeGenerateAvatar JobType = "generate-avatar"
)

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// AllowedFrom returns the statuses a row may hold for a transition into s.
func (s Status) AllowedFrom() []Status {
	switch s {
	case StatusProcessing:
		return []Status{StatusPending}
	case StatusCompleted, StatusFailed:
		return []Status{StatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to Status) bool {
	for _, s := range to.AllowedFrom() {
		if s == from {
			return true
		}
	}
	return false
}

// ActiveStatuses are the statuses considered in-flight for dedup lookups.
var ActiveStatuses = []Status{StatusPending, StatusProcessing}
