package api

import "fmt"

// JobStatus represents the lifecycle state of a job. The values follow
// the RunPod serverless status vocabulary.
type JobStatus string

const (
	JobStatusInQueue    JobStatus = "IN_QUEUE"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
	JobStatusTimedOut   JobStatus = "TIMED_OUT"
)

// Valid reports whether s is one of the known status values.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusInQueue, JobStatusInProgress, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled, JobStatusTimedOut:
		return true
	}
	return false
}

// Terminal reports whether the status allows no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut:
		return true
	}
	return false
}

// ValidateJobTransition checks whether a job status transition is valid.
// An empty "from" status represents the initial state before any status
// has been set. Terminal states do not allow outgoing transitions.
func ValidateJobTransition(from, to JobStatus) *APIError {
	valid := map[JobStatus][]JobStatus{
		"":               {JobStatusInQueue},
		JobStatusInQueue: {JobStatusInProgress, JobStatusCancelled},
		JobStatusInProgress: {
			JobStatusCompleted, JobStatusFailed,
			JobStatusCancelled, JobStatusTimedOut,
		},
	}

	allowed, exists := valid[from]
	if !exists {
		return NewInvalidRequestError("status",
			fmt.Sprintf("invalid transition from %s to %s", from, to))
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return NewInvalidRequestError("status",
		fmt.Sprintf("invalid transition from %s to %s", from, to))
}
