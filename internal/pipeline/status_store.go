package pipeline

import (
	"context"
	"sort"
	"sync"
)

// StatusStore persists request statuses for polling
type StatusStore interface {
	// Get returns the status of id or ErrRequestNotFound
	Get(ctx context.Context, id string) (RequestStatus, error)

	// Set stores or replaces the status for st.RequestID
	Set(ctx context.Context, st RequestStatus) error

	// Delete removes id; deleting an unknown id is not an error
	Delete(ctx context.Context, id string) error

	// Scan calls fn for each status, oldest first, until fn returns false
	Scan(ctx context.Context, fn func(RequestStatus) bool) error
}

// MemoryStatusStore is a StatusStore backed by a map
type MemoryStatusStore struct {
	mu       sync.RWMutex
	statuses map[string]RequestStatus
}

// NewMemoryStatusStore creates an empty MemoryStatusStore
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]RequestStatus)}
}

// Get implements StatusStore
func (s *MemoryStatusStore) Get(_ context.Context, id string) (RequestStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.statuses[id]
	if !ok {
		return RequestStatus{}, ErrRequestNotFound
	}
	return st, nil
}

// Set implements StatusStore
func (s *MemoryStatusStore) Set(_ context.Context, st RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses[st.RequestID] = st
	return nil
}

// Delete implements StatusStore
func (s *MemoryStatusStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.statuses, id)
	return nil
}

// Scan implements StatusStore
func (s *MemoryStatusStore) Scan(ctx context.Context, fn func(RequestStatus) bool) error {
	s.mu.RLock()
	all := make([]RequestStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		all = append(all, st)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	for _, st := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(st) {
			return nil
		}
	}
	return nil
}
