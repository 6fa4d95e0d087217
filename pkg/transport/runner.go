package transport

import (
	"context"

	"github.com/comfypod/comfypod/pkg/api"
)

// JobRunner executes a single job to completion. It is the unit the
// middleware chain wraps: the engine's worker loop drives one job at a
// time through the wrapped runner.
type JobRunner interface {
	RunJob(ctx context.Context, job *api.Job) (*api.JobOutput, error)
}

// JobRunnerFunc is an adapter that allows using an ordinary function as
// a JobRunner.
type JobRunnerFunc func(ctx context.Context, job *api.Job) (*api.JobOutput, error)

// RunJob calls f(ctx, job).
func (f JobRunnerFunc) RunJob(ctx context.Context, job *api.Job) (*api.JobOutput, error) {
	return f(ctx, job)
}

// JobService is the operation set the HTTP adapter exposes. The engine
// implements it on top of its queue and the configured JobStore.
type JobService interface {
	// SubmitJob validates and enqueues a job, returning the queued record
	// immediately.
	SubmitJob(ctx context.Context, req *api.JobRequest) (*api.Job, error)

	// ExecuteJob validates and enqueues a job, then waits for it to reach
	// a terminal status. The finished record is returned even when the
	// job failed; only submission problems surface as errors.
	ExecuteJob(ctx context.Context, req *api.JobRequest) (*api.Job, error)

	// CancelJob cancels a queued or running job and returns its record.
	CancelJob(ctx context.Context, id string) (*api.Job, error)

	// HealthCheck verifies the engine can reach ComfyUI.
	HealthCheck(ctx context.Context) error
}

// Middleware wraps a JobRunner to add cross-cutting behavior. Middleware
// is applied in order: the first middleware in the chain is the outermost
// wrapper (executes first on the way in, last on the way out).
type Middleware func(JobRunner) JobRunner

// Chain composes multiple middleware into a single middleware.
// Chain(a, b, c) produces a(b(c(runner))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next JobRunner) JobRunner {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// requestIDKeyType is the context key type for request IDs.
type requestIDKeyType struct{}

// requestIDKey is the context key for storing and retrieving request IDs.
var requestIDKey = requestIDKeyType{}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
