// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the comfypod worker.
package observability

import "github.com/prometheus/client_golang/prometheus"

// GPUBuckets defines histogram buckets suited for diffusion workloads,
// ranging from 1s to 20 minutes.
var GPUBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfypod_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "comfypod_request_duration_seconds",
			Help:    "Request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// JobsTotal counts finished jobs by terminal status.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfypod_jobs_total",
			Help: "Finished jobs",
		},
		[]string{"status"},
	)

	// JobDuration records end-to-end job execution time in seconds.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "comfypod_job_duration_seconds",
			Help:    "Job execution time",
			Buckets: GPUBuckets,
		},
	)

	// QueueDepth tracks the number of jobs waiting in the queue.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comfypod_queue_depth",
			Help: "Jobs waiting in the queue",
		},
	)

	// ActiveJobs tracks the number of jobs currently executing.
	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "comfypod_active_jobs",
			Help: "Jobs currently executing",
		},
	)

	// EngineRequestsTotal counts HTTP calls to the ComfyUI engine.
	EngineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfypod_engine_requests_total",
			Help: "ComfyUI API calls",
		},
		[]string{"endpoint", "status"},
	)

	// UploadedImagesTotal counts images pushed to object storage.
	UploadedImagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comfypod_uploaded_images_total",
			Help: "Images uploaded to object storage",
		},
	)

	// UploadedBytesTotal counts bytes pushed to object storage.
	UploadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "comfypod_uploaded_bytes_total",
			Help: "Bytes uploaded to object storage",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "comfypod_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		JobsTotal,
		JobDuration,
		QueueDepth,
		ActiveJobs,
		EngineRequestsTotal,
		UploadedImagesTotal,
		UploadedBytesTotal,
		RateLimitRejectedTotal,
	)
}
