// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and HOOPCAL_ env vars over the defaults.
// - Errors wrap this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"

	"github.com/okian/hoopcal/internal/domain/calibration"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory calibration job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of calibration workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the request id deduplication set.
	DedupeSize int `koanf:"dedupe_size"`

	// Input data files.
	TransitionsPath string `koanf:"transitions_path"`
	MetadataPath    string `koanf:"metadata_path"`
	SchedulePath    string `koanf:"schedule_path"`
	ActualWinsPath  string `koanf:"actual_wins_path"`

	// Calibration defaults; a run request may override them.
	Iterations    int     `koanf:"iterations"`
	LearnRate     float64 `koanf:"learn_rate"`
	Seed          int64   `koanf:"seed"`
	SeedRMSE      float64 `koanf:"seed_rmse"`
	GameCap       int     `koanf:"game_cap"`
	ReplayWorkers int     `koanf:"replay_workers"`

	// Store selects where finished runs are kept: memory or postgres.
	Store string `koanf:"store"`

	// PostgresDSN is required when Store is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`
}

// New creates a Config holding the defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Addr:            ":9080",
		QueueSize:       64,
		WorkerCount:     2,
		DedupeSize:      10_000,
		TransitionsPath: "data/team_matrices.json",
		MetadataPath:    "data/team_metadata.json",
		SchedulePath:    "data/schedule.csv",
		ActualWinsPath:  "data/actual_wins.yaml",
		Iterations:      15,
		LearnRate:       1.0,
		Seed:            1,
		SeedRMSE:        15,
		GameCap:         82,
		ReplayWorkers:   runtime.NumCPU(),
		Store:           StoreMemory,
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be positive", ErrInvalidConfig)
	case !(c.LearnRate > calibration.DefaultParams().MinLearnRate()):
		return fmt.Errorf("%w: learn_rate must exceed %.4f", ErrInvalidConfig, calibration.DefaultParams().MinLearnRate())
	case c.GameCap <= 0:
		return fmt.Errorf("%w: game_cap must be positive", ErrInvalidConfig)
	}
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres store requires postgres_dsn", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}
	return nil
}

// Params returns the calibration defaults with the configured overrides applied.
func (c *Config) Params() calibration.Params {
	p := calibration.DefaultParams()
	p.Iterations = c.Iterations
	p.LearnRate = c.LearnRate
	p.Seed = c.Seed
	p.SeedRMSE = c.SeedRMSE
	p.GameCap = c.GameCap
	p.ReplayWorkers = c.ReplayWorkers
	return p
}
