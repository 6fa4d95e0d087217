package api

import (
	"encoding/json"
	"testing"
)

func TestGenerationInputAbsentFields(t *testing.T) {
	var in GenerationInput
	if err := json.Unmarshal([]byte(`{"positive":"blue fox","steps":4}`), &in); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if in.Positive == nil || *in.Positive != "blue fox" {
		t.Errorf("positive not decoded: %+v", in.Positive)
	}
	if in.Steps == nil || *in.Steps != 4 {
		t.Errorf("steps not decoded: %+v", in.Steps)
	}
	// Absent fields must stay nil so the template defaults survive.
	if in.Seed != nil || in.CFG != nil || in.Denoise != nil || in.Width != nil || in.Height != nil {
		t.Errorf("absent fields should be nil: %+v", in)
	}
}

func TestNewJobDefaults(t *testing.T) {
	job := NewJob("", &GenerationInput{})
	if !ValidateJobID(job.ID) {
		t.Errorf("NewJob should assign a valid ID, got %q", job.ID)
	}
	if job.Status != JobStatusInQueue {
		t.Errorf("new job status = %q, want %q", job.Status, JobStatusInQueue)
	}
	if job.CreatedAt == 0 {
		t.Error("new job should carry a creation timestamp")
	}

	withID := NewJob("platform-assigned", nil)
	if withID.ID != "platform-assigned" {
		t.Errorf("caller-provided ID should be kept, got %q", withID.ID)
	}
}

func TestJobResponseShape(t *testing.T) {
	job := &Job{
		ID:     "job_abcdefghijklmnopqrstuvwx",
		Status: JobStatusCompleted,
		Output: &JobOutput{Images: []ImageOutput{{
			Filename:  "ComfyUI_00001_.png",
			LocalPath: "/workspace/comfyui/output/job_x/ComfyUI_00001_.png",
			URL:       "https://bucket.example/presigned",
		}}},
		ExecutionTime: 2350,
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["status"] != "COMPLETED" {
		t.Errorf("status = %v", decoded["status"])
	}
	if _, ok := decoded["error"]; ok {
		t.Error("completed job must not carry an error field")
	}
	if _, ok := decoded["output"]; !ok {
		t.Error("completed job must carry an output field")
	}
}
