// Package game estimates the winner of a single matchup from two teams'
// possession models.
package game

import (
	"math"
	"math/rand"
	"sync"

	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/possession"
)

// Pace blend weights for the expected possession count.
const (
	ownPaceWeight      = 0.75
	opponentPaceWeight = 0.25
)

// Matchup names the two sides of a game and which of them hosts it.
// TeamA is the calling team whose pace dominates the possession estimate.
type Matchup struct {
	TeamA string
	TeamB string
	Home  string
}

// Locations assigns a location to each side. If TeamA is not the host,
// TeamB is treated as the home side.
func (m Matchup) Locations() (model.Location, model.Location) {
	if m.Home == m.TeamA {
		return model.Home, model.Away
	}
	return model.Away, model.Home
}

// Outcome is the estimate for one matchup.
type Outcome struct {
	Winner               string
	Loser                string
	HomeWon              bool
	Tie                  bool
	Possessions          int
	PointsPerPossessionA float64
	PointsPerPossessionB float64
}

// ExpectedPossessions blends the calling team's own pace with its opponent's.
// A result that floors to fewer than one possession, or is not finite, is
// reported as a ModelDivergedError.
func ExpectedPossessions(a *model.TeamModel, locA model.Location, b *model.TeamModel, locB model.Location) (float64, error) {
	count := ownPaceWeight*a.AvgPossessions(locA) + opponentPaceWeight*b.AvgPossessions(locB)
	if math.IsNaN(count) || math.IsInf(count, 0) || math.Floor(count) < 1 {
		return count, &model.ModelDivergedError{Team: a.Name, Location: locA, Possessions: count}
	}
	return count, nil
}

// Option applies a configuration option to the Estimator.
type Option func(*Estimator)

// WithParallelSides samples the two sides on separate goroutines.
func WithParallelSides(enabled bool) Option {
	return func(e *Estimator) {
		e.parallel = enabled
	}
}

// Estimator picks matchup winners by comparing points-per-possession rates.
type Estimator struct {
	parallel bool
}

// NewEstimator creates an estimator with configuration options.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EstimateWinner derives the possession count from both teams' metadata and
// simulates floor(count) possessions per side.
func (e *Estimator) EstimateWinner(rng *rand.Rand, m Matchup, a, b *model.TeamModel) (Outcome, error) {
	locA, locB := m.Locations()
	count, err := ExpectedPossessions(a, locA, b, locB)
	if err != nil {
		return Outcome{}, err
	}
	return e.Simulate(rng, m, a, b, int(math.Floor(count)))
}

// Simulate runs n possessions per side. Each side draws from its own child
// stream seeded from rng, so sequential and parallel runs agree. Ties go to
// the home side.
func (e *Estimator) Simulate(rng *rand.Rand, m Matchup, a, b *model.TeamModel, n int) (Outcome, error) {
	locA, locB := m.Locations()
	profileA := possession.Compile(a, locA)
	profileB := possession.Compile(b, locB)
	return e.simulateProfiles(rng, m, profileA, profileB, n)
}

// SimulateProfiles is Simulate for callers that compile profiles once and
// reuse them across many games.
func (e *Estimator) SimulateProfiles(rng *rand.Rand, m Matchup, profileA, profileB *possession.Profile, n int) (Outcome, error) {
	return e.simulateProfiles(rng, m, profileA, profileB, n)
}

func (e *Estimator) simulateProfiles(rng *rand.Rand, m Matchup, profileA, profileB *possession.Profile, n int) (Outcome, error) {
	streamA := rand.New(rand.NewSource(rng.Int63())) //nolint:gosec // simulation stream, not crypto
	streamB := rand.New(rand.NewSource(rng.Int63())) //nolint:gosec // simulation stream, not crypto

	var (
		rateA, rateB float64
		errA, errB   error
	)
	if e.parallel {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			rateB, errB = profileB.MeanPoints(streamB, n)
		}()
		rateA, errA = profileA.MeanPoints(streamA, n)
		wg.Wait()
	} else {
		rateA, errA = profileA.MeanPoints(streamA, n)
		rateB, errB = profileB.MeanPoints(streamB, n)
	}
	if errA != nil {
		return Outcome{}, errA
	}
	if errB != nil {
		return Outcome{}, errB
	}
	return decide(m, n, rateA, rateB), nil
}

func decide(m Matchup, n int, rateA, rateB float64) Outcome {
	out := Outcome{Possessions: n, PointsPerPossessionA: rateA, PointsPerPossessionB: rateB}
	locA, _ := m.Locations()
	switch {
	case rateA > rateB:
		out.Winner, out.Loser = m.TeamA, m.TeamB
	case rateB > rateA:
		out.Winner, out.Loser = m.TeamB, m.TeamA
	default:
		out.Tie = true
		if locA == model.Home {
			out.Winner, out.Loser = m.TeamA, m.TeamB
		} else {
			out.Winner, out.Loser = m.TeamB, m.TeamA
		}
	}
	winnerIsA := out.Winner == m.TeamA
	out.HomeWon = winnerIsA == (locA == model.Home)
	return out
}
