package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/comfypod/comfypod/pkg/api"
)

// RequestID returns middleware that assigns a unique request ID to each
// job execution. If the context already carries a request ID (set by the
// HTTP adapter from the X-Request-ID header), that value is used.
// Otherwise, a new unique ID is generated.
func RequestID() Middleware {
	return func(next JobRunner) JobRunner {
		return JobRunnerFunc(func(ctx context.Context, job *api.Job) (*api.JobOutput, error) {
			id := RequestIDFromContext(ctx)
			if id == "" {
				id = NewRequestID()
				ctx = ContextWithRequestID(ctx, id)
			}
			return next.RunJob(ctx, job)
		})
	}
}

// NewRequestID creates a new unique request ID as a hex string.
func NewRequestID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
