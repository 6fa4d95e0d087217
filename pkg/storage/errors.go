package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a job does not exist or has been deleted.
	ErrNotFound = errors.New("job not found")

	// ErrConflict is returned when a job with the given ID already exists.
	ErrConflict = errors.New("job already exists")
)
