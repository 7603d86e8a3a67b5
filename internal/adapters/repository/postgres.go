package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/types"
	"github.com/okian/hoopcal/pkg/metrics"

	_ "github.com/lib/pq" // postgres driver
)

const schema = `
CREATE TABLE IF NOT EXISTS calibration_runs (
	id           TEXT PRIMARY KEY,
	request_id   TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	run          JSONB NOT NULL,
	transitions  JSONB,
	metadata     JSONB
)`

const upsertRun = `
INSERT INTO calibration_runs (id, request_id, status, submitted_at, run, transitions, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	request_id   = EXCLUDED.request_id,
	status       = EXCLUDED.status,
	submitted_at = EXCLUDED.submitted_at,
	run          = EXCLUDED.run,
	transitions  = COALESCE(EXCLUDED.transitions, calibration_runs.transitions),
	metadata     = COALESCE(EXCLUDED.metadata, calibration_runs.metadata)`

// PostgresStore persists runs in a calibration_runs table. Best models are
// stored in the same JSON layout as the model files.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn, pings it and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the runs table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Save upserts the run. A nil Best leaves stored models in place.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.Run.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRun)
	}
	run, err := json.Marshal(rec.Run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	var transitions, meta []byte
	if rec.Best != nil {
		if transitions, err = json.Marshal(EncodeTransitions(rec.Best)); err != nil {
			return fmt.Errorf("encode transitions: %w", err)
		}
		if meta, err = json.Marshal(EncodeMetadata(rec.Best)); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, upsertRun,
		rec.Run.ID, rec.Run.RequestID, string(rec.Run.Status), rec.Run.SubmittedAt,
		run, nullJSON(transitions), nullJSON(meta))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.Run.ID, err)
	}
	if n, err := s.Count(ctx); err == nil {
		metrics.UpdateStoredRuns(n)
	}
	return nil
}

// Get loads a run and its best models.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var run, transitions, meta []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT run, transitions, metadata FROM calibration_runs WHERE id = $1`, id,
	).Scan(&run, &transitions, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get run %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(run, &rec.Run); err != nil {
		return Record{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	if transitions == nil || meta == nil {
		return rec, nil
	}
	best, err := decodeModels(transitions, meta)
	if err != nil {
		return Record{}, fmt.Errorf("decode models of %s: %w", id, err)
	}
	rec.Best = best
	return rec, nil
}

// List returns every run ordered by submission time, then id.
func (s *PostgresStore) List(ctx context.Context) ([]types.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run FROM calibration_runs ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Run
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var r types.Run
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored runs.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calibration_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// DB exposes the underlying pool for maintenance tasks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func decodeModels(transitionsJSON, metaJSON []byte) (model.Set, error) {
	var tf TransitionsFile
	if err := json.Unmarshal(transitionsJSON, &tf); err != nil {
		return nil, err
	}
	var mf MetadataFile
	if err := json.Unmarshal(metaJSON, &mf); err != nil {
		return nil, err
	}
	return MergeModels(tablesFromFile(tf), mf)
}

func nullJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
