package engine

import (
	"time"

	"github.com/comfypod/comfypod/pkg/api"
)

// Config holds configuration for the core engine.
type Config struct {
	// QueueSize bounds the number of jobs waiting for the worker. Zero
	// or negative means the default of 16. A full queue rejects new
	// submissions with a too-many-requests error.
	QueueSize int

	// JobTimeout is the per-job execution deadline. A job that exceeds
	// it is interrupted and marked TIMED_OUT. Zero disables the deadline.
	JobTimeout time.Duration

	// PollInterval is how often the engine polls ComfyUI history for a
	// queued prompt. Zero or negative means the default of 500ms.
	PollInterval time.Duration

	// Validation bounds the accepted generation parameters.
	Validation api.ValidationConfig
}

// queueSize returns the effective queue capacity, defaulting to 16.
func (c Config) queueSize() int {
	if c.QueueSize <= 0 {
		return 16
	}
	return c.QueueSize
}

// pollInterval returns the effective history poll interval.
func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return 500 * time.Millisecond
	}
	return c.PollInterval
}
