package calibration

import (
	"fmt"
	"math"
)

// Params holds the calibration loop parameterization.
type Params struct {
	// Loop budget
	Iterations int     `json:"iterations"`  // Rounds to run (default: 15)
	LearnRate  float64 `json:"learn_rate"`  // Learning rate of round 0 (default: 1.0)
	LearnDecay float64 `json:"learn_decay"` // Exponent of the 1/(i+2)^d schedule (default: 1.25)

	// Error gating
	SeedRMSE       float64 `json:"seed_rmse"`       // RMSE assumed before round 0 (default: 15)
	ThresholdScale float64 `json:"threshold_scale"` // Multiplier on the previous RMSE (default: 1.5)
	ThresholdMin   float64 `json:"threshold_min"`   // Lower clamp (default: 8)
	ThresholdMax   float64 `json:"threshold_max"`   // Upper clamp (default: 20)

	// Update rule
	AdjustmentScale float64 `json:"adjustment_scale"` // Per-win scale of outcome weights (default: 0.01)

	// Replay
	GameCap       int   `json:"game_cap"`       // Games a team may play per replay (default: 82)
	Seed          int64 `json:"seed"`           // Root seed of every random stream
	ReplayWorkers int   `json:"replay_workers"` // Goroutines simulating games (default: 1)
}

// DefaultParams returns the default calibration parameters.
func DefaultParams() Params {
	return Params{
		Iterations: 15,
		LearnRate:  1.0,
		LearnDecay: 1.25,

		SeedRMSE:       15,
		ThresholdScale: 1.5,
		ThresholdMin:   8,
		ThresholdMax:   20,

		AdjustmentScale: 0.01,

		GameCap:       82,
		Seed:          1,
		ReplayWorkers: 1,
	}
}

// Validate checks the parameters for values the loop cannot run with.
func (p Params) Validate() error {
	switch {
	case p.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidParams, p.Iterations)
	case !(p.LearnDecay > 0) || math.IsInf(p.LearnDecay, 0):
		return fmt.Errorf("%w: learn decay must be positive, got %v", ErrInvalidParams, p.LearnDecay)
	case !(p.LearnRate > p.MinLearnRate()) || math.IsInf(p.LearnRate, 0):
		return fmt.Errorf("%w: learn rate must exceed %.4f, the rate of round 1, got %v", ErrInvalidParams, p.MinLearnRate(), p.LearnRate)
	case p.SeedRMSE < 0 || math.IsNaN(p.SeedRMSE):
		return fmt.Errorf("%w: seed rmse must be non-negative, got %v", ErrInvalidParams, p.SeedRMSE)
	case p.ThresholdMin > p.ThresholdMax:
		return fmt.Errorf("%w: threshold min %v exceeds max %v", ErrInvalidParams, p.ThresholdMin, p.ThresholdMax)
	case p.AdjustmentScale < 0:
		return fmt.Errorf("%w: adjustment scale must be non-negative, got %v", ErrInvalidParams, p.AdjustmentScale)
	case p.GameCap <= 0:
		return fmt.Errorf("%w: game cap must be positive, got %d", ErrInvalidParams, p.GameCap)
	case p.ReplayWorkers < 0:
		return fmt.Errorf("%w: replay workers must be non-negative, got %d", ErrInvalidParams, p.ReplayWorkers)
	}
	return nil
}

// Threshold is the error gate for a round given the previous round's RMSE.
func Threshold(prevRMSE float64, p Params) float64 {
	return math.Min(math.Max(prevRMSE*p.ThresholdScale, p.ThresholdMin), p.ThresholdMax)
}

// MinLearnRate is the rate of round 1. A round-0 rate at or below it would
// make the schedule grow between the first two rounds.
func (p Params) MinLearnRate() float64 {
	return LearnRate(1, p)
}

// LearnRate returns the learning rate applied in a round. Round 0 uses the
// configured rate; round i > 0 uses 1/(i+1)^LearnDecay.
func LearnRate(round int, p Params) float64 {
	if round <= 0 {
		return p.LearnRate
	}
	return 1 / math.Pow(float64(round+1), p.LearnDecay)
}
