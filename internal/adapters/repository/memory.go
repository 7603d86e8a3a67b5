package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/hoopcal/internal/domain/types"
	"github.com/okian/hoopcal/pkg/metrics"
)

// MemoryStore keeps runs in a map guarded by an RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Record
}

// NewMemoryStore creates an empty in-memory run store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Record)}
}

// Save stores a deep copy of the record.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Best == nil {
		rec.Best = s.runs[rec.Run.ID].Best
	} else {
		rec.Best = rec.Best.Clone()
	}
	s.runs[rec.Run.ID] = rec
	metrics.UpdateStoredRuns(len(s.runs))
	return nil
}

// Get returns the record for id.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.runs[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Best != nil {
		rec.Best = rec.Best.Clone()
	}
	return rec, nil
}

// List returns every run ordered by submission time, then id.
func (s *MemoryStore) List(_ context.Context) ([]types.Run, error) {
	s.mu.RLock()
	out := make([]types.Run, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, rec.Run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Count returns the number of stored runs.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs), nil
}
