package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/comfypod/comfypod/pkg/api"
)

// Logging returns middleware that emits structured log entries for each
// executed job: job ID, request ID, duration, number of output images,
// and whether the run succeeded or failed.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next JobRunner) JobRunner {
		return JobRunnerFunc(func(ctx context.Context, job *api.Job) (*api.JobOutput, error) {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			out, err := next.RunJob(ctx, job)

			attrs := []slog.Attr{
				slog.String("job_id", job.ID),
				slog.String("request_id", requestID),
				slog.Duration("duration", time.Since(start)),
			}

			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "job failed", attrs...)
			} else {
				attrs = append(attrs, slog.Int("images", len(out.Images)))
				logger.LogAttrs(ctx, slog.LevelInfo, "job completed", attrs...)
			}

			return out, err
		})
	}
}
