package transport

import (
	"context"

	"github.com/comfypod/comfypod/pkg/api"
)

// ListOptions controls pagination, filtering, and ordering for job lists.
type ListOptions struct {
	After  string        // Cursor: return jobs after this ID.
	Before string        // Cursor: return jobs before this ID.
	Limit  int           // Maximum number of jobs to return (default 20, max 100).
	Status api.JobStatus // Filter by status.
	Order  string        // Sort order: "asc" or "desc" (default "desc").
}

// JobList holds a paginated list of jobs.
type JobList struct {
	Object  string     `json:"object"`
	Data    []*api.Job `json:"data"`
	HasMore bool       `json:"has_more"`
	FirstID string     `json:"first_id"`
	LastID  string     `json:"last_id"`
}

// JobStore handles persistence, retrieval, and deletion of job records.
// A record exists from the moment a job is accepted; the engine updates
// it as the job progresses.
type JobStore interface {
	// SaveJob persists a new job record. Returns storage.ErrConflict when
	// a job with the same ID already exists.
	SaveJob(ctx context.Context, job *api.Job) error

	// GetJob retrieves a job by ID. Returns storage.ErrNotFound if the
	// job does not exist or has been deleted.
	GetJob(ctx context.Context, id string) (*api.Job, error)

	// UpdateJob replaces the record of an existing job. Status, progress,
	// and output updates all go through here.
	UpdateJob(ctx context.Context, job *api.Job) error

	// DeleteJob soft-deletes a job by ID.
	DeleteJob(ctx context.Context, id string) error

	// ListJobs returns a paginated list of stored jobs. Results are
	// filtered by tenant (when present in context) and optionally by
	// status. Supports cursor-based pagination and ordering.
	ListJobs(ctx context.Context, opts ListOptions) (*JobList, error)

	// HealthCheck verifies the store connection is functional.
	HealthCheck(ctx context.Context) error

	// Close releases database connections and resources.
	Close() error
}
