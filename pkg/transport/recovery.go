package transport

import (
	"context"
	"fmt"

	"github.com/comfypod/comfypod/pkg/api"
)

// Recovery returns middleware that catches panics in the runner and
// converts them to server errors. The worker loop continues to process
// queued jobs after a panic is recovered.
func Recovery() Middleware {
	return func(next JobRunner) JobRunner {
		return JobRunnerFunc(func(ctx context.Context, job *api.Job) (out *api.JobOutput, retErr error) {
			defer func() {
				if r := recover(); r != nil {
					out = nil
					retErr = api.NewServerError(fmt.Sprintf("internal worker error: %v", r))
				}
			}()
			return next.RunJob(ctx, job)
		})
	}
}
