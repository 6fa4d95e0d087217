// Package memory provides an in-memory implementation of transport.JobStore
// for testing and single-worker deployments. Jobs are stored in memory and
// lost when the process restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/comfypod/comfypod/pkg/api"
	"github.com/comfypod/comfypod/pkg/storage"
	"github.com/comfypod/comfypod/pkg/transport"
)

// entry holds a stored job and its metadata.
type entry struct {
	job       *api.Job
	tenantID  string
	deletedAt *time.Time
	lruElem   *list.Element // position in LRU list
}

// Store is an in-memory JobStore with optional LRU eviction. It keeps
// private copies of job records: Save and Update clone their argument,
// Get and List return clones, so callers never share memory through
// the store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements transport.JobStore at compile time.
var _ transport.JobStore = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used entry is evicted
// when the limit is reached. Jobs that have not reached a terminal status
// are never evicted.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// SaveJob persists a new job record in memory.
func (s *Store) SaveJob(ctx context.Context, job *api.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.ID]; exists {
		return storage.ErrConflict
	}

	tenantID := storage.GetTenant(ctx)

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(job.ID)
	s.entries[job.ID] = &entry{
		job:      job.Clone(),
		tenantID: tenantID,
		lruElem:  elem,
	}

	return nil
}

// GetJob retrieves a job by ID. Returns ErrNotFound if the job does not
// exist or has been soft-deleted. Scoped by tenant when a tenant is
// present in the context.
func (s *Store) GetJob(ctx context.Context, id string) (*api.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return nil, storage.ErrNotFound
	}

	// Tenant scoping.
	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return nil, storage.ErrNotFound
	}

	return e.job.Clone(), nil
}

// UpdateJob replaces the record of an existing job and marks it as the
// most recently used entry.
func (s *Store) UpdateJob(ctx context.Context, job *api.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[job.ID]
	if !ok || e.deletedAt != nil {
		return storage.ErrNotFound
	}

	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return storage.ErrNotFound
	}

	e.job = job.Clone()
	s.lruList.MoveToFront(e.lruElem)
	return nil
}

// DeleteJob soft-deletes a job. The record remains in memory until
// evicted but is invisible to Get and List.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.deletedAt != nil {
		return storage.ErrNotFound
	}

	// Tenant scoping.
	tenantID := storage.GetTenant(ctx)
	if tenantID != "" && e.tenantID != tenantID {
		return storage.ErrNotFound
	}

	now := time.Now()
	e.deletedAt = &now
	return nil
}

// ListJobs returns a paginated list of stored jobs filtered by tenant and
// optionally by status, with cursor-based pagination.
func (s *Store) ListJobs(ctx context.Context, opts transport.ListOptions) (*transport.JobList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := storage.GetTenant(ctx)

	// Collect matching entries.
	var matches []*api.Job
	for _, e := range s.entries {
		if e.deletedAt != nil {
			continue
		}
		if tenantID != "" && e.tenantID != tenantID {
			continue
		}
		if opts.Status != "" && e.job.Status != opts.Status {
			continue
		}
		matches = append(matches, e.job.Clone())
	}

	// Sort by created_at. Default is desc (newest first).
	asc := opts.Order == "asc"
	sort.Slice(matches, func(i, j int) bool {
		if asc {
			if matches[i].CreatedAt != matches[j].CreatedAt {
				return matches[i].CreatedAt < matches[j].CreatedAt
			}
			return matches[i].ID < matches[j].ID
		}
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].ID > matches[j].ID
	})

	// Apply cursor-based pagination.
	if opts.After != "" {
		idx := -1
		for i, j := range matches {
			if j.ID == opts.After {
				idx = i
				break
			}
		}
		if idx >= 0 {
			matches = matches[idx+1:]
		} else {
			matches = nil
		}
	} else if opts.Before != "" {
		idx := -1
		for i, j := range matches {
			if j.ID == opts.Before {
				idx = i
				break
			}
		}
		if idx > 0 {
			matches = matches[:idx]
		} else {
			matches = nil
		}
	}

	// Apply limit.
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	hasMore := len(matches) > limit
	if hasMore {
		matches = matches[:limit]
	}

	result := &transport.JobList{
		Object:  "list",
		Data:    matches,
		HasMore: hasMore,
	}
	if len(matches) > 0 {
		result.FirstID = matches[0].ID
		result.LastID = matches[len(matches)-1].ID
	}
	if result.Data == nil {
		result.Data = []*api.Job{}
	}

	return result, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used terminal entry. Entries for
// jobs still queued or running are skipped so an eviction can never lose
// an active job.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	for elem := s.lruList.Back(); elem != nil; elem = elem.Prev() {
		id := elem.Value.(string)
		e, ok := s.entries[id]
		if ok && e.deletedAt == nil && !e.job.Terminal() {
			continue
		}
		s.lruList.Remove(elem)
		delete(s.entries, id)
		return
	}
}
