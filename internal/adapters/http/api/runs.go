package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/hoopcal/internal/adapters/repository"
	service "github.com/okian/hoopcal/internal/app"
	"github.com/okian/hoopcal/internal/domain/calibration"
	"github.com/okian/hoopcal/internal/domain/types"
)

// Upper bounds a request may ask for.
const (
	maxIterations    = 200
	maxReplayWorkers = 256
	maxRequestBody   = 1 << 16
)

// minLearnRate keeps the learning-rate schedule decreasing from round 0.
var minLearnRate = calibration.DefaultParams().MinLearnRate() //nolint:gochecknoglobals // derived constant

// runRequest mirrors the OpenAPI schema for POST /runs.
type runRequest struct {
	RequestID     string   `json:"request_id"`
	Iterations    *int     `json:"iterations"`
	LearnRate     *float64 `json:"learn_rate"`
	Seed          *int64   `json:"seed"`
	GameCap       *int     `json:"game_cap"`
	ReplayWorkers *int     `json:"replay_workers"`
}

func (r runRequest) validate() error {
	switch {
	case len(r.RequestID) > 128:
		return errors.New("request_id longer than 128 characters")
	case r.Iterations != nil && (*r.Iterations < 1 || *r.Iterations > maxIterations):
		return fmt.Errorf("iterations must be within [1, %d]", maxIterations)
	case r.LearnRate != nil && !(*r.LearnRate > minLearnRate):
		return fmt.Errorf("learn_rate must exceed %.4f", minLearnRate)
	case r.GameCap != nil && *r.GameCap < 1:
		return errors.New("game_cap must be positive")
	case r.ReplayWorkers != nil && (*r.ReplayWorkers < 0 || *r.ReplayWorkers > maxReplayWorkers):
		return fmt.Errorf("replay_workers must be within [0, %d]", maxReplayWorkers)
	}
	return nil
}

func (r runRequest) toSubmit() service.SubmitRequest {
	return service.SubmitRequest{
		RequestID:     strings.TrimSpace(r.RequestID),
		Iterations:    r.Iterations,
		LearnRate:     r.LearnRate,
		Seed:          r.Seed,
		GameCap:       r.GameCap,
		ReplayWorkers: r.ReplayWorkers,
	}
}

type submitResponse struct {
	Status    string    `json:"status"`
	Duplicate bool      `json:"duplicate"`
	Run       types.Run `json:"run"`
}

// modelResponse carries a best model set in the on-disk file layout.
type modelResponse struct {
	RunID       string                     `json:"run_id"`
	Transitions repository.TransitionsFile `json:"transitions"`
	Metadata    repository.MetadataFile    `json:"metadata"`
}

// RunsHandler handles the /runs routes.
type RunsHandler struct {
	deps RunDependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps RunDependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleSubmit handles POST /runs.
func (h *RunsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_run"

	var req runRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	if err := req.validate(); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	run, dup, err := h.deps.Submit(r.Context(), req.toSubmit())
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, submitResponse{Status: "duplicate", Duplicate: true, Run: run})
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Status: "accepted", Run: run})
}

// HandleList handles GET /runs.
func (h *RunsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_runs"
	runs, err := h.deps.Runs(r.Context())
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleGet handles GET /runs/{id}.
func (h *RunsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_run"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	run, err := h.deps.Run(r.Context(), id)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleModel handles GET /runs/{id}/model.
func (h *RunsHandler) HandleModel(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_run_model"
	id := r.PathValue("id")
	if id == "" {
		writeError(w, NewKind(op, ErrBadRequest))
		return
	}
	set, err := h.deps.Model(r.Context(), id)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		RunID:       id,
		Transitions: repository.EncodeTransitions(set),
		Metadata:    repository.EncodeMetadata(set),
	})
}
