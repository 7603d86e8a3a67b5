// Package calibration fits team possession models to a season's observed win
// totals by repeatedly replaying the schedule and nudging mis-predicted teams.
package calibration

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/okian/hoopcal/internal/domain/game"
	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/possession"
	"github.com/okian/hoopcal/pkg/logger"
	"github.com/okian/hoopcal/pkg/metrics"
	"gonum.org/v1/gonum/floats"
)

// Input is everything one calibration run consumes. Models is never mutated.
type Input struct {
	Models     model.Set
	Schedule   model.Schedule
	ActualWins model.Wins
}

// RoundSummary describes one replay+score+update round.
type RoundSummary struct {
	Round        int           `json:"round"`
	RMSE         float64       `json:"rmse"`
	Threshold    float64       `json:"threshold"`
	LearnRate    float64       `json:"learn_rate"`
	UpdatedTeams []string      `json:"updated_teams"`
	GamesPlayed  int           `json:"games_played"`
	GamesSkipped int           `json:"games_skipped"`
	GamesFailed  int           `json:"games_failed"`
	Best         bool          `json:"best"`
	Duration     time.Duration `json:"duration"`
}

// Result is the outcome of a calibration run.
type Result struct {
	// Best is the model set that produced BestRMSE.
	Best      model.Set
	BestRMSE  float64
	BestRound int

	// Final is the working set after the last round's updates.
	Final model.Set

	// Teams, Predicted and Actual are the final round's win vectors sorted by team.
	Teams     []string
	Predicted []int
	Actual    []int

	RMSEs  []float64
	Rounds []RoundSummary
}

// Option applies a configuration option to the Calibrator.
type Option func(*Calibrator)

// WithParams replaces the default parameters.
func WithParams(p Params) Option {
	return func(c *Calibrator) {
		c.params = p
	}
}

// WithLogger sets the logger used for round progress.
func WithLogger(l logger.Logger) Option {
	return func(c *Calibrator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithEstimator overrides the game estimator.
func WithEstimator(e *game.Estimator) Option {
	return func(c *Calibrator) {
		if e != nil {
			c.estimator = e
		}
	}
}

// Calibrator runs the season calibration loop.
type Calibrator struct {
	params    Params
	log       logger.Logger
	estimator *game.Estimator
}

// New creates a calibrator with configuration options.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{
		params:    DefaultParams(),
		log:       logger.Discard(),
		estimator: game.NewEstimator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Params returns the parameters the calibrator runs with.
func (c *Calibrator) Params() Params { return c.params }

// Calibrate runs the fixed iteration budget and returns the best snapshot.
// Only invalid parameters or a corrupt model store abort the run; per-game
// simulation failures are counted and logged.
func (c *Calibrator) Calibrate(ctx context.Context, in Input) (*Result, error) {
	p := c.params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	teams, err := checkInput(in)
	if err != nil {
		return nil, err
	}

	working := in.Models.Clone()
	res := &Result{
		BestRMSE:  math.Inf(1),
		BestRound: -1,
		Teams:     teams,
		RMSEs:     make([]float64, 0, p.Iterations),
		Rounds:    make([]RoundSummary, 0, p.Iterations),
	}
	prevRMSE := p.SeedRMSE
	started := time.Now()

	c.log.Info(ctx, "calibration started",
		logger.Int("teams", len(teams)),
		logger.Int("games", len(in.Schedule)),
		logger.Int("iterations", p.Iterations),
		logger.Int("seed", int(p.Seed)))

	for round := 0; round < p.Iterations; round++ {
		roundStart := time.Now()
		learnRate := LearnRate(round, p)

		// ReplaySeason
		board, tally := c.replay(ctx, round, working, in.Schedule, teams)

		// ScoreRound
		errs := make(map[string]float64, len(teams))
		predicted := make([]float64, len(teams))
		actual := make([]float64, len(teams))
		for i, team := range teams {
			predicted[i] = float64(board[team].wins)
			actual[i] = float64(in.ActualWins[team])
			errs[team] = predicted[i] - actual[i]
		}
		rmse := RMSE(predicted, actual)
		threshold := Threshold(prevRMSE, p)

		// CheckBest: the snapshot is the model set that produced this RMSE.
		best := rmse < res.BestRMSE
		if best {
			res.BestRMSE = rmse
			res.BestRound = round
			res.Best = working.Clone()
		}

		// UpdateModels
		updated := make([]string, 0)
		for _, team := range teams {
			e := errs[team]
			if math.Abs(e) <= threshold {
				continue
			}
			UpdateTeam(working[team], e, learnRate, p)
			updated = append(updated, team)
		}

		summary := RoundSummary{
			Round:        round,
			RMSE:         rmse,
			Threshold:    threshold,
			LearnRate:    learnRate,
			UpdatedTeams: updated,
			GamesPlayed:  tally.played,
			GamesSkipped: tally.skipped,
			GamesFailed:  tally.failed,
			Best:         best,
			Duration:     time.Since(roundStart),
		}
		res.RMSEs = append(res.RMSEs, rmse)
		res.Rounds = append(res.Rounds, summary)
		res.Predicted = intsOf(predicted)
		res.Actual = intsOf(actual)

		metrics.RecordRound(rmse, learnRate, len(updated), summary.Duration)
		metrics.RecordGamesReplayed(tally.played, tally.skipped, tally.failed)
		metrics.RecordPossessions(tally.possessions)

		c.log.Info(ctx, "calibration round finished",
			logger.Int("round", round),
			logger.Float64("rmse", rmse),
			logger.Float64("threshold", threshold),
			logger.Float64("learn_rate", learnRate),
			logger.Int("teams_updated", len(updated)),
			logger.Int("games_played", tally.played),
			logger.Int("games_skipped", tally.skipped),
			logger.Int("games_failed", tally.failed),
			logger.Bool("best", best),
			logger.Duration("took", summary.Duration))
		if tally.failed > 0 {
			c.log.Warn(ctx, "games failed to simulate",
				logger.Int("round", round),
				logger.Int("failed", tally.failed),
				logger.Error(tally.firstErr))
		}

		prevRMSE = rmse
	}

	res.Final = working
	metrics.UpdateBestRMSE(res.BestRMSE)
	c.log.Info(ctx, "calibration finished",
		logger.Float64("best_rmse", res.BestRMSE),
		logger.Int("best_round", res.BestRound),
		logger.Duration("took", time.Since(started)))
	return res, nil
}

// checkInput returns the scored teams, sorted, or a fatal input error.
func checkInput(in Input) ([]string, error) {
	if len(in.ActualWins) == 0 {
		return nil, fmt.Errorf("%w: no actual win totals", ErrInvalidInput)
	}
	teams := in.ActualWins.Teams()
	for _, g := range in.Schedule {
		for _, name := range []string{g.Home, g.Away} {
			if _, ok := in.ActualWins[name]; !ok {
				return nil, fmt.Errorf("%w: game %s: %w: %s has no actual win total", ErrInvalidInput, g.ID, model.ErrUnknownTeam, name)
			}
		}
	}
	if err := in.Models.Validate(teams); err != nil {
		return nil, err
	}
	return teams, nil
}

// UpdateTeam applies the proportional update rule to one team. Scoring
// outcomes of every funnel start row are scaled by (1 - err*lr*scale) and
// non-scoring ones by (1 + err*lr*scale), both clamped at zero; every row is
// then renormalized and average possessions drop by err*lr at both locations.
func UpdateTeam(team *model.TeamModel, err, learnRate float64, p Params) {
	step := err * learnRate * p.AdjustmentScale
	positive := math.Max(0, 1-step)
	negative := math.Max(0, 1+step)
	for _, loc := range model.Locations {
		table := team.Transitions[loc]
		for _, start := range model.FunnelStartTypes {
			row, ok := table[start]
			if !ok {
				continue
			}
			scale(row, model.PositiveOutcomes, positive)
			scale(row, model.NegativeOutcomes, negative)
		}
		table.NormalizeRows()
	}
	team.AdjustPossessions(-err * learnRate)
}

func scale(row model.Distribution, labels []string, factor float64) {
	for _, label := range labels {
		if v, ok := row[label]; ok {
			row[label] = v * factor
		}
	}
}

// RMSE is the root mean squared difference of two equal-length vectors.
// Empty input yields zero.
func RMSE(predicted, actual []float64) float64 {
	if len(predicted) == 0 {
		return 0
	}
	diff := make([]float64, len(predicted))
	floats.SubTo(diff, predicted, actual)
	return floats.Norm(diff, 2) / math.Sqrt(float64(len(diff)))
}

func intsOf(v []float64) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

// record is a team's replayed win/loss tally.
type record struct {
	wins   int
	losses int
}

func (r *record) played() int { return r.wins + r.losses }

type replayTally struct {
	played      int
	skipped     int
	failed      int
	possessions int
	firstErr    error
}

// gameResult is the simulated outcome of one scheduled game.
type gameResult struct {
	outcome game.Outcome
	err     error
	done    bool
}

// replay plays the schedule once. Games are merged into the standings in
// schedule order by a single mutator so the season cap is enforced exactly
// and the result does not depend on ReplayWorkers.
func (c *Calibrator) replay(ctx context.Context, round int, set model.Set, schedule model.Schedule, teams []string) (map[string]*record, replayTally) {
	profiles := compileProfiles(set)
	board := make(map[string]*record, len(teams))
	for _, team := range teams {
		board[team] = &record{}
	}

	results := make([]gameResult, len(schedule))
	if c.params.ReplayWorkers > 1 {
		c.simulateAll(round, set, profiles, schedule, results)
	}

	var tally replayTally
	for i, g := range schedule {
		if board[g.Home].played() >= c.params.GameCap || board[g.Away].played() >= c.params.GameCap {
			tally.skipped++
			continue
		}
		if !results[i].done {
			results[i] = c.simulateGame(round, i, set, profiles, g)
		}
		r := results[i]
		if r.err != nil {
			tally.failed++
			if tally.firstErr == nil {
				tally.firstErr = r.err
			}
			c.log.Debug(ctx, "game simulation failed",
				logger.String("game_id", g.ID),
				logger.String("home", g.Home),
				logger.String("away", g.Away),
				logger.Error(r.err))
			continue
		}
		board[r.outcome.Winner].wins++
		board[r.outcome.Loser].losses++
		tally.played++
		tally.possessions += 2 * r.outcome.Possessions
	}
	return board, tally
}

// simulateAll fans the schedule out to ReplayWorkers goroutines.
func (c *Calibrator) simulateAll(round int, set model.Set, profiles map[string]map[model.Location]*possession.Profile, schedule model.Schedule, results []gameResult) {
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.params.ReplayWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.simulateGame(round, i, set, profiles, schedule[i])
			}
		}()
	}
	for i := range schedule {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func (c *Calibrator) simulateGame(round, index int, set model.Set, profiles map[string]map[model.Location]*possession.Profile, g model.Game) gameResult {
	rng := rand.New(rand.NewSource(gameSeed(c.params.Seed, round, index))) //nolint:gosec // simulation stream, not crypto
	m := game.Matchup{TeamA: g.Home, TeamB: g.Away, Home: g.Home}
	count, err := game.ExpectedPossessions(set[g.Home], model.Home, set[g.Away], model.Away)
	if err != nil {
		return gameResult{err: err, done: true}
	}
	out, err := c.estimator.SimulateProfiles(rng, m, profiles[g.Home][model.Home], profiles[g.Away][model.Away], int(math.Floor(count)))
	return gameResult{outcome: out, err: err, done: true}
}

func compileProfiles(set model.Set) map[string]map[model.Location]*possession.Profile {
	out := make(map[string]map[model.Location]*possession.Profile, len(set))
	for name, team := range set {
		byLoc := make(map[model.Location]*possession.Profile, len(model.Locations))
		for _, loc := range model.Locations {
			byLoc[loc] = possession.Compile(team, loc)
		}
		out[name] = byLoc
	}
	return out
}

// gameSeed derives an independent stream seed for one game of one round.
func gameSeed(seed int64, round, index int) int64 {
	z := uint64(seed)
	z ^= (uint64(round) + 1) * 0x9E3779B97F4A7C15
	z ^= (uint64(index) + 1) * 0xC2B2AE3D27D4EB4F
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return int64(z ^ (z >> 31))
}
