// Package types contains the run and job types shared by the service layers.
package types

import (
	"time"

	"github.com/okian/hoopcal/internal/domain/calibration"
)

// RunStatus is the lifecycle state of a calibration run.
type RunStatus string

// Run lifecycle: queued -> running -> succeeded | failed.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// Job is the unit of work flowing through the queue.
type Job struct {
	RunID       string             `json:"run_id"`
	RequestID   string             `json:"request_id,omitempty"`
	Params      calibration.Params `json:"params"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// Standing compares a team's predicted and actual wins for the final round.
type Standing struct {
	Team      string `json:"team"`
	Predicted int    `json:"predicted"`
	Actual    int    `json:"actual"`
	Error     int    `json:"error"`
}

// Summary is the reportable part of a calibration result.
type Summary struct {
	BestRMSE  float64                    `json:"best_rmse"`
	BestRound int                        `json:"best_round"`
	RMSEs     []float64                  `json:"rmses"`
	Rounds    []calibration.RoundSummary `json:"rounds"`
	Standings []Standing                 `json:"standings"`
}

// NewSummary builds the report from a calibration result.
func NewSummary(res *calibration.Result) *Summary {
	s := &Summary{
		BestRMSE:  res.BestRMSE,
		BestRound: res.BestRound,
		RMSEs:     res.RMSEs,
		Rounds:    res.Rounds,
		Standings: make([]Standing, len(res.Teams)),
	}
	for i, team := range res.Teams {
		s.Standings[i] = Standing{
			Team:      team,
			Predicted: res.Predicted[i],
			Actual:    res.Actual[i],
			Error:     res.Predicted[i] - res.Actual[i],
		}
	}
	return s
}

// Run is a submitted calibration and, once finished, its summary.
type Run struct {
	ID          string             `json:"id"`
	RequestID   string             `json:"request_id,omitempty"`
	Status      RunStatus          `json:"status"`
	Params      calibration.Params `json:"params"`
	SubmittedAt time.Time          `json:"submitted_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
	Error       string             `json:"error,omitempty"`
	Summary     *Summary           `json:"summary,omitempty"`
}

// Stats is the service-wide snapshot served on /stats.
type Stats struct {
	QueueLength   int            `json:"queue_length"`
	QueueCapacity int            `json:"queue_capacity"`
	Workers       int            `json:"workers"`
	ActiveWorkers int            `json:"active_workers"`
	Runs          int            `json:"runs"`
	RunsByStatus  map[string]int `json:"runs_by_status"`
	Teams         int            `json:"teams"`
	Games         int            `json:"games"`
	DedupeSize    int            `json:"dedupe_size"`
}
