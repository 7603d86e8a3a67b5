// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	jobqueue "github.com/okian/hoopcal/internal/adapters/mq/queue"
	workerpool "github.com/okian/hoopcal/internal/adapters/mq/worker"
	"github.com/okian/hoopcal/internal/adapters/repository"
	"github.com/okian/hoopcal/internal/domain/calibration"
	"github.com/okian/hoopcal/internal/domain/dedupe"
	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/types"
	"github.com/okian/hoopcal/pkg/logger"
	"github.com/okian/hoopcal/pkg/metrics"
)

const defaultStopTimeout = 30 * time.Second

// Source loads the dataset every run calibrates against.
type Source interface {
	Load(ctx context.Context) (repository.Dataset, error)
}

// SubmitRequest asks for a calibration run. Nil fields fall back to the
// service defaults.
type SubmitRequest struct {
	RequestID     string   `json:"request_id,omitempty"`
	Iterations    *int     `json:"iterations,omitempty"`
	LearnRate     *float64 `json:"learn_rate,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	GameCap       *int     `json:"game_cap,omitempty"`
	ReplayWorkers *int     `json:"replay_workers,omitempty"`
}

// Service runs calibrations asynchronously against one loaded dataset.
type Service struct {
	mu sync.RWMutex

	// Core components
	source  Source
	store   repository.RunStore
	deduper dedupe.Deduper
	queue   jobqueue.Queue
	pool    *workerpool.Pool
	dataset repository.Dataset

	// Configuration
	workerCount int
	queueSize   int
	dedupeSize  int
	params      calibration.Params

	// State
	started     bool
	now         func() time.Time
	stopTimeout time.Duration

	// inflight maps the runs being processed to whether Stop gave up on them.
	inflightMu sync.Mutex
	inflight   map[string]bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of calibration workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued runs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the request id cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSource sets where the dataset is loaded from on Start.
func WithSource(src Source) Option {
	return func(s *Service) {
		s.source = src
	}
}

// WithStore sets the run store. The default is an in-memory store.
func WithStore(store repository.RunStore) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithParams sets the default calibration parameters of submitted runs.
func WithParams(p calibration.Params) Option {
	return func(s *Service) {
		s.params = p
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStopTimeout bounds how long Stop waits for running calibrations.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount: runtime.NumCPU(),
		queueSize:   64,
		dedupeSize:  10_000,
		params:      calibration.DefaultParams(),
		now:         time.Now,
		stopTimeout: defaultStopTimeout,
		inflight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the dataset and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.source == nil {
		return fmt.Errorf("%w: no dataset source", ErrNotStarted)
	}

	s.logger.Info(ctx, "starting calibration service...")

	ds, err := s.source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	if err := ds.Models.Validate(ds.ActualWins.Teams()); err != nil {
		return fmt.Errorf("validate dataset: %w", err)
	}
	s.dataset = ds

	if s.store == nil {
		s.store = repository.NewMemoryStore()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = jobqueue.NewInMemoryQueue(jobqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s)
	s.pool.Start(context.WithoutCancel(ctx))

	s.started = true
	s.logger.Info(ctx, "calibration service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("teams", len(ds.Models)),
		logger.Int("games", len(ds.Schedule)),
	)
	return nil
}

// Stop closes the queue and waits for queued runs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping calibration service...")
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		s.abandonInflight(context.WithoutCancel(ctx))
	}
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn(ctx, "closing run store", logger.Error(err))
		}
	}
	s.started = false
	s.logger.Info(ctx, "calibration service stopped")
}

// Submit queues a calibration run. A repeated request id returns the run it
// first created with duplicate set.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (types.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return types.Run{}, false, ErrNotStarted
	}
	params := s.paramsFor(req)
	if err := params.Validate(); err != nil {
		return types.Run{}, false, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	runID := uuid.NewString()
	if req.RequestID != "" {
		if existing, seen := s.deduper.Claim(ctx, req.RequestID, runID); seen {
			metrics.RecordRunDuplicate()
			rec, err := s.store.Get(ctx, existing)
			if err != nil {
				return types.Run{}, true, fmt.Errorf("load duplicate run: %w", err)
			}
			return rec.Run, true, nil
		}
	}

	run := types.Run{
		ID:          runID,
		RequestID:   req.RequestID,
		Status:      types.RunQueued,
		Params:      params,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.store.Save(ctx, repository.Record{Run: run}); err != nil {
		s.release(ctx, req.RequestID)
		return types.Run{}, false, fmt.Errorf("save run: %w", err)
	}

	job := types.Job{RunID: run.ID, RequestID: run.RequestID, Params: params, SubmittedAt: run.SubmittedAt}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.release(ctx, req.RequestID)
		run.Status = types.RunFailed
		run.Error = err.Error()
		if saveErr := s.store.Save(ctx, repository.Record{Run: run}); saveErr != nil {
			s.logger.Error(ctx, "marking rejected run failed", logger.Error(saveErr))
		}
		if errors.Is(err, jobqueue.ErrFull) {
			return run, false, fmt.Errorf("%w: %w", ErrBackpressure, err)
		}
		return run, false, fmt.Errorf("enqueue run: %w", err)
	}

	metrics.RecordRunSubmitted()
	s.logger.Info(ctx, "calibration run queued",
		logger.String("run_id", run.ID),
		logger.String("request_id", run.RequestID),
		logger.Int("iterations", params.Iterations),
	)
	return run, false, nil
}

func (s *Service) release(ctx context.Context, requestID string) {
	if requestID != "" {
		s.deduper.Release(ctx, requestID)
	}
}

func (s *Service) paramsFor(req SubmitRequest) calibration.Params {
	p := s.params
	if req.Iterations != nil {
		p.Iterations = *req.Iterations
	}
	if req.LearnRate != nil {
		p.LearnRate = *req.LearnRate
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
	}
	if req.GameCap != nil {
		p.GameCap = *req.GameCap
	}
	if req.ReplayWorkers != nil {
		p.ReplayWorkers = *req.ReplayWorkers
	}
	return p
}

// Process runs one queued calibration and persists its outcome.
func (s *Service) Process(ctx context.Context, job types.Job) error {
	s.track(job.RunID)
	defer s.untrack(job.RunID)

	rec, err := s.store.Get(ctx, job.RunID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("load run: %w", err)
		}
		rec.Run = types.Run{ID: job.RunID, RequestID: job.RequestID, Params: job.Params, SubmittedAt: job.SubmittedAt}
	}
	run := rec.Run

	started := s.now().UTC()
	run.Status = types.RunRunning
	run.StartedAt = &started
	if err := s.save(ctx, repository.Record{Run: run}); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}

	s.logger.Info(ctx, "calibration run started", logger.String("run_id", run.ID))
	cal := calibration.New(
		calibration.WithParams(job.Params),
		calibration.WithLogger(s.logger.Named("calibration")),
	)
	res, calErr := cal.Calibrate(ctx, calibration.Input{
		Models:     s.dataset.Models,
		Schedule:   s.dataset.Schedule,
		ActualWins: s.dataset.ActualWins,
	})

	finished := s.now().UTC()
	run.FinishedAt = &finished
	took := finished.Sub(started)

	out := repository.Record{Run: run}
	if calErr != nil {
		out.Run.Status = types.RunFailed
		out.Run.Error = calErr.Error()
		metrics.RecordRunCompleted(metrics.StatusFailed, took)
	} else {
		out.Run.Status = types.RunSucceeded
		out.Run.Summary = types.NewSummary(res)
		out.Best = res.Best
		metrics.RecordRunCompleted(metrics.StatusSucceeded, took)
	}
	if err := s.save(ctx, out); err != nil {
		return fmt.Errorf("save finished run: %w", err)
	}
	if calErr != nil {
		return calErr
	}

	s.logger.Info(ctx, "calibration run succeeded",
		logger.String("run_id", run.ID),
		logger.Float64("best_rmse", res.BestRMSE),
		logger.Int("best_round", res.BestRound),
		logger.Duration("took", took),
	)
	return nil
}

func (s *Service) track(id string) {
	s.inflightMu.Lock()
	s.inflight[id] = false
	s.inflightMu.Unlock()
}

func (s *Service) untrack(id string) {
	s.inflightMu.Lock()
	delete(s.inflight, id)
	s.inflightMu.Unlock()
}

// save persists a run being processed unless Stop already failed it.
func (s *Service) save(ctx context.Context, rec repository.Record) error {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[rec.Run.ID] {
		return ErrStopped
	}
	return s.store.Save(ctx, rec)
}

// abandonInflight stores every run still being processed as failed. Their
// workers keep computing but can no longer save.
func (s *Service) abandonInflight(ctx context.Context) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()

	for id, abandoned := range s.inflight {
		if abandoned {
			continue
		}
		s.inflight[id] = true

		rec, err := s.store.Get(ctx, id)
		if err != nil {
			rec = repository.Record{Run: types.Run{ID: id}}
		}
		finished := s.now().UTC()
		rec.Run.Status = types.RunFailed
		rec.Run.Error = ErrStopped.Error()
		rec.Run.FinishedAt = &finished
		if err := s.store.Save(ctx, rec); err != nil {
			s.logger.Error(ctx, "failing abandoned run", logger.String("run_id", id), logger.Error(err))
			continue
		}
		metrics.RecordRunCompleted(metrics.StatusFailed, 0)
		s.logger.Warn(ctx, "run abandoned on stop", logger.String("run_id", id))
	}
}

// Run returns a run by id.
func (s *Service) Run(ctx context.Context, id string) (types.Run, error) {
	store, err := s.runStore()
	if err != nil {
		return types.Run{}, err
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		return types.Run{}, err
	}
	return rec.Run, nil
}

// Runs lists every run in submission order.
func (s *Service) Runs(ctx context.Context) ([]types.Run, error) {
	store, err := s.runStore()
	if err != nil {
		return nil, err
	}
	return store.List(ctx)
}

// Model returns the best model set of a succeeded run.
func (s *Service) Model(ctx context.Context, id string) (model.Set, error) {
	store, err := s.runStore()
	if err != nil {
		return nil, err
	}
	rec, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Run.Status != types.RunSucceeded || rec.Best == nil {
		return nil, fmt.Errorf("%w: run %s is %s", ErrModelUnavailable, id, rec.Run.Status)
	}
	return rec.Best, nil
}

func (s *Service) runStore() (repository.RunStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, ErrNotStarted
	}
	return s.store, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := types.Stats{
		Workers:      s.workerCount,
		RunsByStatus: make(map[string]int),
	}
	if !s.started {
		return stats
	}

	ctx := context.Background()
	stats.QueueLength = s.queue.Len(ctx)
	stats.QueueCapacity = s.queue.Cap()
	stats.ActiveWorkers = s.pool.Active()
	stats.Teams = len(s.dataset.Models)
	stats.Games = len(s.dataset.Schedule)
	stats.DedupeSize = s.deduper.Size()

	runs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Warn(ctx, "listing runs for stats", logger.Error(err))
		return stats
	}
	stats.Runs = len(runs)
	for _, r := range runs {
		stats.RunsByStatus[string(r.Status)]++
	}

	metrics.UpdateQueueSize(stats.QueueLength)
	metrics.UpdateWorkerCount(stats.Workers)
	return stats
}

// Started reports whether Start has completed.
func (s *Service) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
