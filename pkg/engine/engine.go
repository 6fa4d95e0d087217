package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/comfy"
	"github.com/comfypod/comfypod/pkg/observability"
	"github.com/comfypod/comfypod/pkg/transport"
	"github.com/comfypod/comfypod/pkg/upload"
	"github.com/comfypod/comfypod/pkg/workflow"
)

// Engine drives jobs from the queue through ComfyUI. It implements
// transport.JobService.
type Engine struct {
	comfy    *comfy.Client
	store    transport.JobStore
	template workflow.Graph
	uploader upload.Uploader
	volume   comfy.Volume
	inflight *transport.InFlightRegistry
	runner   transport.JobRunner
	cfg      Config
	logger   *slog.Logger

	queue chan string

	mu      sync.Mutex
	waiters map[string]chan struct{}

	wg sync.WaitGroup
}

// Ensure Engine implements transport.JobService at compile time.
var _ transport.JobService = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithUploader enables object storage upload for generated images.
func WithUploader(u upload.Uploader) Option {
	return func(e *Engine) { e.uploader = u }
}

// WithVolume points the engine at the persisted volume ComfyUI writes
// its outputs to. Without one, images are fetched over the /view
// endpoint into a scratch directory.
func WithVolume(v comfy.Volume) Option {
	return func(e *Engine) { e.volume = v }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMiddleware wraps the job runner with the given middleware chain.
func WithMiddleware(mw ...transport.Middleware) Option {
	return func(e *Engine) { e.runner = transport.Chain(mw...)(e.runner) }
}

// New creates an Engine. The ComfyUI client, store, and workflow
// template must not be nil.
func New(client *comfy.Client, store transport.JobStore, template workflow.Graph, cfg Config, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("engine: comfy client must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: store must not be nil")
	}
	if len(template) == 0 {
		return nil, fmt.Errorf("engine: workflow template must not be empty")
	}

	e := &Engine{
		comfy:    client,
		store:    store,
		template: template,
		inflight: transport.NewInFlightRegistry(),
		cfg:      cfg,
		logger:   slog.Default(),
		queue:    make(chan string, cfg.queueSize()),
		waiters:  make(map[string]chan struct{}),
	}
	e.runner = transport.JobRunnerFunc(e.runJob)

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// Start launches the worker goroutine. The worker stops when ctx is
// cancelled; Wait blocks until it has drained.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
}

// Wait blocks until the worker goroutine has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SubmitJob validates and enqueues a job, returning the queued record.
func (e *Engine) SubmitJob(ctx context.Context, req *api.JobRequest) (*api.Job, error) {
	if req == nil || req.Input == nil {
		return nil, api.NewInvalidRequestError("input", "input is required")
	}
	if req.ID != "" && !api.ValidateJobID(req.ID) {
		return nil, api.NewInvalidRequestError("id", "malformed job ID")
	}
	if apiErr := api.ValidateInput(req.Input, e.cfg.Validation); apiErr != nil {
		return nil, apiErr
	}

	job := api.NewJob(req.ID, req.Input)

	if err := e.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	e.addWaiter(job.ID)

	select {
	case e.queue <- job.ID:
		observability.QueueDepth.Inc()
	default:
		// Queue full: roll the record back and push back on the caller.
		e.finish(job.ID)
		if derr := e.store.DeleteJob(ctx, job.ID); derr != nil {
			e.logger.Warn("rolling back rejected job", "job_id", job.ID, "error", derr)
		}
		return nil, api.NewTooManyRequestsError("job queue is full")
	}

	e.logger.Info("job queued", "job_id", job.ID)
	return job, nil
}

// ExecuteJob enqueues a job and waits for it to reach a terminal status.
// The finished record is returned even when the job failed; only
// submission problems surface as errors.
func (e *Engine) ExecuteJob(ctx context.Context, req *api.JobRequest) (*api.Job, error) {
	job, err := e.SubmitJob(ctx, req)
	if err != nil {
		return nil, err
	}

	done := e.waiter(job.ID)
	select {
	case <-done:
	case <-ctx.Done():
		return nil, api.NewServerError("request cancelled while waiting for job " + job.ID)
	}

	return e.store.GetJob(ctx, job.ID)
}

// CancelJob cancels a queued or running job. Cancelling a job that has
// already finished returns the record unchanged.
func (e *Engine) CancelJob(ctx context.Context, id string) (*api.Job, error) {
	job, err := e.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}

	if e.inflight.Cancel(id) {
		// Running: the worker observes the cancelled context, interrupts
		// ComfyUI, and writes the terminal status. Wait for it.
		done := e.waiter(id)
		select {
		case <-done:
		case <-ctx.Done():
			return nil, api.NewServerError("request cancelled while waiting for job " + id)
		}
		return e.store.GetJob(ctx, id)
	}

	// Still queued: mark it cancelled here, the worker skips terminal
	// records on dequeue.
	if apiErr := api.ValidateJobTransition(job.Status, api.JobStatusCancelled); apiErr != nil {
		return nil, apiErr
	}
	job.Status = api.JobStatusCancelled
	job.FinishedAt = time.Now().Unix()
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	observability.JobsTotal.WithLabelValues(string(api.JobStatusCancelled)).Inc()
	e.finish(id)

	e.logger.Info("queued job cancelled", "job_id", id)
	return job, nil
}

// HealthCheck verifies the engine can reach ComfyUI.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.comfy.Health(ctx)
}

// addWaiter creates the completion channel for a job.
func (e *Engine) addWaiter(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waiters[id] = make(chan struct{})
}

// waiter returns the completion channel for a job. A closed channel is
// returned for jobs that already finished or were never queued.
func (e *Engine) waiter(id string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.waiters[id]; ok {
		return ch
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// finish closes and removes a job's completion channel.
func (e *Engine) finish(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch, ok := e.waiters[id]; ok {
		close(ch)
		delete(e.waiters, id)
	}
}
