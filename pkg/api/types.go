package api

import "time"

// GenerationInput holds the parameters a caller may override in the
// workflow template. Every field is optional: a nil field leaves the
// template's baked-in value untouched.
type GenerationInput struct {
	// Positive is the positive prompt text.
	Positive *string `json:"positive,omitempty"`

	// Negative is the negative prompt text.
	Negative *string `json:"negative,omitempty"`

	// Seed is the sampler seed.
	Seed *int64 `json:"seed,omitempty"`

	// Steps is the number of sampling steps.
	Steps *int `json:"steps,omitempty"`

	// CFG is the classifier-free guidance scale.
	CFG *float64 `json:"cfg,omitempty"`

	// Denoise is the denoise strength in (0, 1].
	Denoise *float64 `json:"denoise,omitempty"`

	// Width is the latent image width in pixels.
	Width *int `json:"width,omitempty"`

	// Height is the latent image height in pixels.
	Height *int `json:"height,omitempty"`

	// CheckpointName overrides the checkpoint file loaded by the workflow,
	// e.g. "cyberrealistic_v40.safetensors".
	CheckpointName *string `json:"ckpt_name,omitempty"`
}

// JobRequest is the body accepted by POST /run and POST /runsync.
type JobRequest struct {
	// ID is optional; when empty the worker assigns one.
	ID    string           `json:"id,omitempty"`
	Input *GenerationInput `json:"input"`

	// WebhookURL is accepted for platform compatibility but not acted on
	// by the worker itself.
	WebhookURL string `json:"webhook,omitempty"`
}

// ImageOutput describes a single generated image. LocalPath is always set;
// URL is set only when an uploader is configured.
type ImageOutput struct {
	// Filename is the image file name as produced by the engine.
	Filename string `json:"filename"`

	// LocalPath is the absolute path on the worker's persisted volume.
	LocalPath string `json:"local_path,omitempty"`

	// URL is a presigned GET URL when object storage upload is enabled.
	URL string `json:"url,omitempty"`
}

// JobOutput is the result payload of a completed job.
type JobOutput struct {
	Images []ImageOutput `json:"images"`
}

// Progress reports how far the engine has advanced through the workflow.
// Value and Max mirror the engine's own progress messages (typically
// sampler steps); Node names the node currently executing.
type Progress struct {
	Value int    `json:"value"`
	Max   int    `json:"max"`
	Node  string `json:"node,omitempty"`
}

// Job is the full job record as stored and as returned by GET /status.
type Job struct {
	ID     string           `json:"id"`
	Status JobStatus        `json:"status"`
	Input  *GenerationInput `json:"input,omitempty"`

	Output   *JobOutput `json:"output,omitempty"`
	Error    *APIError  `json:"error,omitempty"`
	Progress *Progress  `json:"progress,omitempty"`

	// PromptID is the engine-side identifier for the queued workflow,
	// populated once the prompt has been accepted.
	PromptID string `json:"prompt_id,omitempty"`

	CreatedAt  int64 `json:"created_at"`
	StartedAt  int64 `json:"started_at,omitempty"`
	FinishedAt int64 `json:"finished_at,omitempty"`

	// ExecutionTime is the wall-clock duration of the engine run in
	// milliseconds, reported for completed and failed jobs.
	ExecutionTime int64 `json:"executionTime,omitempty"`
}

// NewJob creates a queued job record for the given input.
func NewJob(id string, input *GenerationInput) *Job {
	if id == "" {
		id = NewJobID()
	}
	return &Job{
		ID:        id,
		Status:    JobStatusInQueue,
		Input:     input,
		CreatedAt: time.Now().Unix(),
	}
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// Clone returns a deep copy of the job record. Stores hand out clones so
// a record being marshalled by a status read never shares memory with the
// record the worker is still updating.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Input != nil {
		in := *j.Input
		c.Input = &in
	}
	if j.Output != nil {
		c.Output = &JobOutput{Images: append([]ImageOutput(nil), j.Output.Images...)}
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	return &c
}
