package engine

import (
	"context"
	"errors"
	"time"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/observability"
)

// loop is the single worker goroutine. Jobs execute strictly one at a
// time: the GPU has no room for more.
func (e *Engine) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-e.queue:
			observability.QueueDepth.Dec()
			e.process(ctx, id)
		}
	}
}

// process runs one dequeued job to its terminal status.
func (e *Engine) process(ctx context.Context, id string) {
	defer e.finish(id)

	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		e.logger.Error("loading dequeued job", "job_id", id, "error", err)
		return
	}
	if job.Terminal() {
		// Cancelled while queued.
		return
	}

	job.Status = api.JobStatusInProgress
	job.StartedAt = time.Now().Unix()
	if err := e.store.UpdateJob(ctx, job); err != nil {
		e.logger.Error("marking job in progress", "job_id", id, "error", err)
		return
	}

	observability.ActiveJobs.Inc()
	defer observability.ActiveJobs.Dec()

	jobCtx, cancel := context.WithCancel(ctx)
	runCtx := jobCtx
	if e.cfg.JobTimeout > 0 {
		var tcancel context.CancelFunc
		runCtx, tcancel = context.WithTimeout(jobCtx, e.cfg.JobTimeout)
		defer tcancel()
	}
	e.inflight.Register(id, cancel)

	start := time.Now()
	output, runErr := e.runner.RunJob(runCtx, job)
	ctxErr := runCtx.Err()

	e.inflight.Remove(id)
	cancel()

	job.FinishedAt = time.Now().Unix()
	job.ExecutionTime = time.Since(start).Milliseconds()

	switch {
	case runErr == nil:
		job.Status = api.JobStatusCompleted
		job.Output = output
	case errors.Is(ctxErr, context.DeadlineExceeded):
		job.Status = api.JobStatusTimedOut
		job.Error = api.NewEngineError("job exceeded the execution deadline")
		e.interrupt(id)
	case errors.Is(ctxErr, context.Canceled):
		job.Status = api.JobStatusCancelled
		job.Error = api.NewEngineError("job cancelled")
		e.interrupt(id)
	default:
		job.Status = api.JobStatusFailed
		var apiErr *api.APIError
		if errors.As(runErr, &apiErr) {
			job.Error = apiErr
		} else {
			job.Error = api.NewServerError(runErr.Error())
		}
	}

	// The terminal write must land even during shutdown, so it gets its
	// own deadline instead of the worker context.
	writeCtx, writeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer writeCancel()
	if err := e.store.UpdateJob(writeCtx, job); err != nil {
		e.logger.Error("writing terminal status", "job_id", id, "status", job.Status, "error", err)
	}

	observability.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	observability.JobDuration.Observe(time.Since(start).Seconds())

	e.logger.Info("job finished",
		"job_id", id,
		"status", job.Status,
		"duration_ms", job.ExecutionTime)
}

// interrupt tells ComfyUI to abandon the running prompt. Best effort:
// the job is already terminal either way.
func (e *Engine) interrupt(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.comfy.Interrupt(ctx); err != nil {
		e.logger.Warn("interrupting execution", "job_id", id, "error", err)
	}
}
