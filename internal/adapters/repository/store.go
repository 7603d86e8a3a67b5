// Package repository loads calibration inputs from disk and persists runs.
package repository

import (
	"context"

	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/types"
)

// Record is a stored run plus the best model set once the run succeeded.
type Record struct {
	Run  types.Run
	Best model.Set
}

// RunStore provides read/write access to calibration runs.
type RunStore interface {
	// Save inserts or replaces a run. A nil Best keeps any model already stored.
	Save(ctx context.Context, rec Record) error

	// Get returns the run with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// List returns every run ordered by submission time.
	List(ctx context.Context) ([]types.Run, error)

	// Count returns the number of stored runs.
	Count(ctx context.Context) (int, error)
}

var (
	_ RunStore = (*MemoryStore)(nil)
	_ RunStore = (*PostgresStore)(nil)
)
