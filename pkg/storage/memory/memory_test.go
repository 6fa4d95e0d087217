package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/storage"
	"github.com/comfypod/comfypod/pkg/transport"
)

func makeJob(id string) *api.Job {
	prompt := "a watercolor fox"
	return &api.Job{
		ID:     id,
		Status: api.JobStatusCompleted,
		Input:  &api.GenerationInput{Positive: &prompt},
		Output: &api.JobOutput{
			Images: []api.ImageOutput{{Filename: "fox_00001_.png", LocalPath: "/workspace/comfyui/output/" + id + "/fox_00001_.png"}},
		},
		CreatedAt: 1000,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	job := makeJob("job_test1")
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := s.GetJob(ctx, "job_test1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	if got.ID != "job_test1" {
		t.Errorf("ID = %q, want %q", got.ID, "job_test1")
	}
	if got.Status != api.JobStatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, api.JobStatusCompleted)
	}
	if got.Input == nil || got.Input.Positive == nil || *got.Input.Positive != "a watercolor fox" {
		t.Error("input prompt not preserved")
	}
	if got.Output == nil || len(got.Output.Images) != 1 {
		t.Error("output images not preserved")
	}
}

func TestGetNotFound(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	_, err := s.GetJob(ctx, "job_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateJob(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	job := makeJob("job_upd")
	job.Status = api.JobStatusInQueue
	job.Output = nil
	s.SaveJob(ctx, job)

	updated := makeJob("job_upd")
	updated.Status = api.JobStatusInProgress
	updated.Progress = &api.Progress{Value: 5, Max: 20, Node: "3"}
	if err := s.UpdateJob(ctx, updated); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	got, err := s.GetJob(ctx, "job_upd")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != api.JobStatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, api.JobStatusInProgress)
	}
	if got.Progress == nil || got.Progress.Value != 5 {
		t.Error("progress not updated")
	}
}

func TestUpdateNotFound(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	err := s.UpdateJob(ctx, makeJob("job_missing"))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	s.SaveJob(ctx, makeJob("job_del"))

	if err := s.DeleteJob(ctx, "job_del"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}

	_, err := s.GetJob(ctx, "job_del")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Double delete reports not-found.
	if err := s.DeleteJob(ctx, "job_del"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestDuplicateSave(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	job := makeJob("job_dup")
	s.SaveJob(ctx, job)

	err := s.SaveJob(ctx, job)
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("expected ErrConflict for duplicate, got %v", err)
	}
}

func TestDeleteNotFound(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	err := s.DeleteJob(ctx, "job_missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	s := New(0)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestLRUEviction(t *testing.T) {
	s := New(3) // max 3 entries
	ctx := context.Background()

	s.SaveJob(ctx, makeJob("job_a"))
	s.SaveJob(ctx, makeJob("job_b"))
	s.SaveJob(ctx, makeJob("job_c"))

	// All three should be accessible.
	for _, id := range []string{"job_a", "job_b", "job_c"} {
		if _, err := s.GetJob(ctx, id); err != nil {
			t.Fatalf("expected %s to exist, got %v", id, err)
		}
	}

	// Save a 4th: oldest (job_a) should be evicted.
	s.SaveJob(ctx, makeJob("job_d"))

	if _, err := s.GetJob(ctx, "job_a"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expected job_a to be evicted")
	}

	// job_b, job_c, job_d should still exist.
	for _, id := range []string{"job_b", "job_c", "job_d"} {
		if _, err := s.GetJob(ctx, id); err != nil {
			t.Errorf("expected %s to exist after eviction, got %v", id, err)
		}
	}
}

func TestLRUEviction_SkipsActiveJobs(t *testing.T) {
	s := New(2)
	ctx := context.Background()

	running := makeJob("job_running")
	running.Status = api.JobStatusInProgress
	running.Output = nil
	s.SaveJob(ctx, running)
	s.SaveJob(ctx, makeJob("job_done"))

	// Capacity reached: the terminal job should be evicted, not the
	// running one, even though the running job is older.
	s.SaveJob(ctx, makeJob("job_new"))

	if _, err := s.GetJob(ctx, "job_running"); err != nil {
		t.Errorf("active job must survive eviction, got %v", err)
	}
	if _, err := s.GetJob(ctx, "job_done"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("expected terminal job_done to be evicted")
	}
}

func TestLRUEviction_Unlimited(t *testing.T) {
	s := New(0) // unlimited
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		s.SaveJob(ctx, makeJob(fmt.Sprintf("job_%03d", i)))
	}

	// All should exist (no eviction).
	s.mu.RLock()
	count := len(s.entries)
	s.mu.RUnlock()

	if count != 100 {
		t.Errorf("expected 100 entries, got %d", count)
	}
}

func TestListJobs(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := makeJob(fmt.Sprintf("job_list_%d", i))
		job.CreatedAt = int64(1000 + i)
		if i == 0 {
			job.Status = api.JobStatusFailed
		}
		s.SaveJob(ctx, job)
	}

	// Default order is desc (newest first).
	list, err := s.ListJobs(ctx, transport.ListOptions{})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(list.Data) != 5 {
		t.Fatalf("len(Data) = %d, want 5", len(list.Data))
	}
	if list.Data[0].ID != "job_list_4" {
		t.Errorf("first ID = %q, want job_list_4", list.Data[0].ID)
	}
	if list.FirstID != "job_list_4" || list.LastID != "job_list_0" {
		t.Errorf("cursor IDs = %q/%q, want job_list_4/job_list_0", list.FirstID, list.LastID)
	}

	// Status filter.
	list, err = s.ListJobs(ctx, transport.ListOptions{Status: api.JobStatusFailed})
	if err != nil {
		t.Fatalf("ListJobs(status) failed: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "job_list_0" {
		t.Errorf("status filter returned %d jobs, want only job_list_0", len(list.Data))
	}

	// Cursor pagination with limit.
	list, err = s.ListJobs(ctx, transport.ListOptions{Limit: 2, Order: "asc"})
	if err != nil {
		t.Fatalf("ListJobs(limit) failed: %v", err)
	}
	if len(list.Data) != 2 || !list.HasMore {
		t.Fatalf("expected 2 jobs with has_more, got %d/%v", len(list.Data), list.HasMore)
	}
	if list.Data[0].ID != "job_list_0" {
		t.Errorf("asc first ID = %q, want job_list_0", list.Data[0].ID)
	}

	list, err = s.ListJobs(ctx, transport.ListOptions{Limit: 2, Order: "asc", After: list.LastID})
	if err != nil {
		t.Fatalf("ListJobs(after) failed: %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "job_list_2" {
		t.Errorf("after cursor returned %d jobs starting %q, want 2 starting job_list_2", len(list.Data), list.FirstID)
	}
}

func TestTenantIsolation(t *testing.T) {
	s := New(0)

	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")
	ctxNone := context.Background()

	// Save for tenant A.
	s.SaveJob(ctxA, makeJob("job_a1"))

	// Tenant A can retrieve.
	if _, err := s.GetJob(ctxA, "job_a1"); err != nil {
		t.Fatalf("tenant A should retrieve own job: %v", err)
	}

	// Tenant B cannot retrieve.
	if _, err := s.GetJob(ctxB, "job_a1"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tenant B should not see tenant A's job")
	}

	// No tenant (single-tenant mode) can retrieve.
	if _, err := s.GetJob(ctxNone, "job_a1"); err != nil {
		t.Fatalf("no-tenant context should see all jobs: %v", err)
	}
}

func TestTenantIsolation_Delete(t *testing.T) {
	s := New(0)

	ctxA := storage.SetTenant(context.Background(), "tenant-a")
	ctxB := storage.SetTenant(context.Background(), "tenant-b")

	s.SaveJob(ctxA, makeJob("job_a2"))

	// Tenant B cannot delete tenant A's job.
	if err := s.DeleteJob(ctxB, "job_a2"); !errors.Is(err, storage.ErrNotFound) {
		t.Error("tenant B should not delete tenant A's job")
	}

	// Tenant A can delete.
	if err := s.DeleteJob(ctxA, "job_a2"); err != nil {
		t.Fatalf("tenant A should delete own job: %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	job := makeJob("job_copy1")
	job.Status = api.JobStatusInQueue
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	// Mutating the caller's record after Save must not leak into the store.
	job.Status = api.JobStatusFailed

	got, err := s.GetJob(ctx, "job_copy1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != api.JobStatusInQueue {
		t.Errorf("store shares memory with the saved record: status %s", got.Status)
	}

	// Mutating a returned record must not leak either.
	got.Status = api.JobStatusCancelled
	got.Output.Images[0].Filename = "clobbered.png"

	again, err := s.GetJob(ctx, "job_copy1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if again.Status != api.JobStatusInQueue {
		t.Errorf("store shares memory with a returned record: status %s", again.Status)
	}
	if again.Output.Images[0].Filename != "fox_00001_.png" {
		t.Errorf("store shares output slice with a returned record: %s", again.Output.Images[0].Filename)
	}
}

func TestConcurrentReadDuringUpdates(t *testing.T) {
	s := New(0)
	ctx := context.Background()

	job := makeJob("job_race1")
	job.Status = api.JobStatusInQueue
	if err := s.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Marshal every read the way the status handler does.
		for i := 0; i < 200; i++ {
			got, err := s.GetJob(ctx, "job_race1")
			if err != nil {
				return
			}
			if _, err := json.Marshal(got); err != nil {
				t.Errorf("marshal failed: %v", err)
				return
			}
		}
	}()

	upd := makeJob("job_race1")
	for i := 0; i < 200; i++ {
		upd.Status = api.JobStatusInProgress
		upd.Progress = &api.Progress{Value: i, Max: 200, Node: "3"}
		upd.StartedAt = int64(1000 + i)
		if err := s.UpdateJob(ctx, upd); err != nil {
			t.Fatalf("UpdateJob failed: %v", err)
		}
	}
	<-done
}
