// Package http serves the job API over HTTP: the RunPod-style serverless
// contract (/run, /runsync, /status, /cancel) plus job listing and health.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/storage"
	"github.com/comfypod/comfypod/pkg/transport"
)

// Adapter routes job requests to the engine and serializes job records.
type Adapter struct {
	service transport.JobService
	store   transport.JobStore
	mux     *http.ServeMux
	config  Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr            string
	MaxBodySize     int64
	ShutdownTimeout int // seconds
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		MaxBodySize:     1 << 20, // 1 MB
		ShutdownTimeout: 30,
	}
}

// NewAdapter creates an HTTP adapter over the given JobService and JobStore.
func NewAdapter(service transport.JobService, store transport.JobStore, cfg Config) *Adapter {
	a := &Adapter{
		service: service,
		store:   store,
		mux:     http.NewServeMux(),
		config:  cfg,
	}

	a.mux.HandleFunc("POST /run", a.handleRun)
	a.mux.HandleFunc("POST /runsync", a.handleRunSync)
	a.mux.HandleFunc("GET /status/{id}", a.handleStatus)
	a.mux.HandleFunc("POST /cancel/{id}", a.handleCancel)
	a.mux.HandleFunc("GET /jobs", a.handleListJobs)
	a.mux.HandleFunc("DELETE /jobs/{id}", a.handleDeleteJob)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)

	return a
}

// Handle registers an additional route on the adapter's mux, e.g. a
// Prometheus metrics handler.
func (a *Adapter) Handle(pattern string, handler http.Handler) {
	a.mux.Handle(pattern, handler)
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest. The returned handler includes
// HTTP-level middleware for request ID propagation.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header. A client
// supplied ID is forwarded into the context; the ID present in the context
// after middleware ran is echoed back on the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx = transport.ContextWithRequestID(ctx, id)
		} else {
			ctx = transport.ContextWithRequestID(ctx, transport.NewRequestID())
		}
		r = r.WithContext(ctx)
		w.Header().Set("X-Request-ID", transport.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r)
	})
}

// decodeJobRequest enforces Content-Type and the body size cap, then decodes
// the request. A nil return with a written response means the caller should
// stop.
func (a *Adapter) decodeJobRequest(w http.ResponseWriter, r *http.Request) *api.JobRequest {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req api.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return nil
	}

	return &req
}

// handleRun handles POST /run: enqueue and return immediately.
func (a *Adapter) handleRun(w http.ResponseWriter, r *http.Request) {
	req := a.decodeJobRequest(w, r)
	if req == nil {
		return
	}

	job, err := a.service.SubmitJob(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     job.ID,
		"status": job.Status,
	})
}

// handleRunSync handles POST /runsync: execute and wait for the result.
func (a *Adapter) handleRunSync(w http.ResponseWriter, r *http.Request) {
	req := a.decodeJobRequest(w, r)
	if req == nil {
		return
	}

	job, err := a.service.ExecuteJob(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleStatus handles GET /status/{id}.
func (a *Adapter) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateJobID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed job ID"),
			http.StatusBadRequest,
		)
		return
	}

	job, err := a.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
			return
		}
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancel handles POST /cancel/{id}.
func (a *Adapter) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateJobID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed job ID"),
			http.StatusBadRequest,
		)
		return
	}

	job, err := a.service.CancelJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
			return
		}
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleListJobs handles GET /jobs.
func (a *Adapter) handleListJobs(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, http.StatusBadRequest)
		return
	}

	result, err := a.store.ListJobs(r.Context(), opts)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteJob handles DELETE /jobs/{id}. Only records, never running
// work: cancellation goes through /cancel.
func (a *Adapter) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !api.ValidateJobID(id) {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "malformed job ID"),
			http.StatusBadRequest,
		)
		return
	}

	job, err := a.store.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
			return
		}
		a.writeServiceError(w, err)
		return
	}
	if !job.Terminal() {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("id", "job is still active; cancel it first"),
			http.StatusConflict,
		)
		return
	}

	if err := a.store.DeleteJob(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			transport.WriteAPIError(w, api.NewNotFoundError("job "+id+" not found"))
			return
		}
		a.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /healthz. The engine being busy is healthy;
// only an unreachable engine or a failing store degrades the check.
func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	type component struct {
		Status string `json:"status"`
		Error  string `json:"error,omitempty"`
	}
	resp := map[string]component{
		"engine": {Status: "ok"},
		"store":  {Status: "ok"},
	}

	healthy := true
	if err := a.service.HealthCheck(r.Context()); err != nil {
		resp["engine"] = component{Status: "unavailable", Error: err.Error()}
		healthy = false
	}
	if err := a.store.HealthCheck(r.Context()); err != nil {
		resp["store"] = component{Status: "unavailable", Error: err.Error()}
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// parseListOptions extracts pagination parameters from the query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *api.APIError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After:  q.Get("after"),
		Before: q.Get("before"),
		Status: api.JobStatus(q.Get("status")),
		Order:  q.Get("order"),
	}

	if opts.After != "" && opts.Before != "" {
		return opts, api.NewInvalidRequestError("after", "cannot use both 'after' and 'before' cursors")
	}

	if opts.Status != "" && !opts.Status.Valid() {
		return opts, api.NewInvalidRequestError("status", "unknown status "+string(opts.Status))
	}

	if opts.Order != "" && opts.Order != "asc" && opts.Order != "desc" {
		return opts, api.NewInvalidRequestError("order", "order must be 'asc' or 'desc'")
	}
	if opts.Order == "" {
		opts.Order = "desc"
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, api.NewInvalidRequestError("limit", "limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeServiceError maps engine and store errors onto the JSON error format.
func (a *Adapter) writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		apiErr = api.NewServerError(err.Error())
	}
	transport.WriteAPIError(w, apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
