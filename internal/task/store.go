package task

import (
	"context"
	"sort"
	"sync"
)

// Store persists task snapshots. The queue writes a snapshot on every state
// transition while holding its lock, so implementations should be fast.
type Store interface {
	// Get returns the snapshot for id or ErrTaskNotFound
	Get(ctx context.Context, id string) (Task, error)

	// Set stores or replaces the snapshot for t.ID
	Set(ctx context.Context, t Task) error

	// Scan calls fn for each stored snapshot until fn returns false
	Scan(ctx context.Context, fn func(Task) bool) error
}

// MemoryStore is a Store backed by a map
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

// Set implements Store
func (s *MemoryStore) Set(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks[t.ID] = t
	return nil
}

// Scan implements Store. Snapshots are visited in creation order.
func (s *MemoryStore) Scan(ctx context.Context, fn func(Task) bool) error {
	s.mu.RLock()
	snapshot := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		snapshot = append(snapshot, t)
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})

	for _, t := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(t) {
			return nil
		}
	}
	return nil
}

// Delete removes a snapshot. Missing ids are ignored.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}
