// Command calibrate runs one calibration against the configured data files
// and writes the best models plus a report to an output directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/okian/hoopcal/internal/adapters/repository"
	"github.com/okian/hoopcal/internal/config"
	"github.com/okian/hoopcal/internal/domain/calibration"
	"github.com/okian/hoopcal/internal/domain/types"
	"github.com/okian/hoopcal/pkg/logger"
)

// Output file names.
const (
	transitionsFile = "team_matrices.json"
	metadataFile    = "team_metadata.json"
	reportFile      = "report.json"
)

type options struct {
	outDir        string
	iterations    int
	learnRate     float64
	seed          int64
	gameCap       int
	replayWorkers int
	transitions   string
	metadata      string
	schedule      string
	actualWins    string
}

func main() {
	if err := logger.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		logger.Get().Error(ctx, "calibration failed", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

// run parses args over the loaded config, calibrates and writes the outputs.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}

	opts, err := parseFlags(args, cfg)
	if err != nil {
		return err
	}
	params := cfg.Params()
	params.Iterations = opts.iterations
	params.LearnRate = opts.learnRate
	params.Seed = opts.seed
	params.GameCap = opts.gameCap
	params.ReplayWorkers = opts.replayWorkers

	log := logger.Get().Named("calibrate")
	ds, err := repository.FileSource{
		TransitionsPath: opts.transitions,
		MetadataPath:    opts.metadata,
		SchedulePath:    opts.schedule,
		ActualWinsPath:  opts.actualWins,
	}.Load(ctx)
	if err != nil {
		return err
	}
	log.Info(ctx, "dataset loaded",
		logger.Int("teams", len(ds.Models)),
		logger.Int("games", len(ds.Schedule)),
	)

	cal := calibration.New(calibration.WithParams(params), calibration.WithLogger(log))
	res, err := cal.Calibrate(ctx, calibration.Input{
		Models:     ds.Models,
		Schedule:   ds.Schedule,
		ActualWins: ds.ActualWins,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := repository.WriteTransitions(filepath.Join(opts.outDir, transitionsFile), res.Best); err != nil {
		return err
	}
	if err := repository.WriteMetadata(filepath.Join(opts.outDir, metadataFile), res.Best); err != nil {
		return err
	}
	if err := writeReport(filepath.Join(opts.outDir, reportFile), params, res); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(stdout, "best rmse %.3f at round %d; wrote %s\n", res.BestRMSE, res.BestRound, opts.outDir)
	return nil
}

func parseFlags(args []string, cfg *config.Config) (options, error) {
	var o options
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	fs.StringVar(&o.outDir, "out", "out", "directory the best models and report are written to")
	fs.IntVar(&o.iterations, "iterations", cfg.Iterations, "calibration rounds")
	fs.Float64Var(&o.learnRate, "learn-rate", cfg.LearnRate, "learning rate of round 0")
	fs.Int64Var(&o.seed, "seed", cfg.Seed, "root random seed")
	fs.IntVar(&o.gameCap, "game-cap", cfg.GameCap, "games a team may play per replay")
	fs.IntVar(&o.replayWorkers, "replay-workers", cfg.ReplayWorkers, "goroutines simulating games")
	fs.StringVar(&o.transitions, "transitions", cfg.TransitionsPath, "transition matrices JSON")
	fs.StringVar(&o.metadata, "metadata", cfg.MetadataPath, "team metadata JSON")
	fs.StringVar(&o.schedule, "schedule", cfg.SchedulePath, "schedule CSV")
	fs.StringVar(&o.actualWins, "actual-wins", cfg.ActualWinsPath, "observed win totals YAML")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

type report struct {
	Params calibration.Params `json:"params"`
	*types.Summary
}

func writeReport(path string, p calibration.Params, res *calibration.Result) error {
	data, err := json.MarshalIndent(report{Params: p, Summary: types.NewSummary(res)}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
