// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	service "github.com/okian/hoopcal/internal/app"
	"github.com/okian/hoopcal/internal/domain/model"
	"github.com/okian/hoopcal/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	RunDependencies
	StatsProvider
	HealthProvider
}

// RunDependencies covers submitting and reading calibration runs.
type RunDependencies interface {
	// Submit queues a run. The bool reports a repeated request id.
	Submit(ctx context.Context, req service.SubmitRequest) (types.Run, bool, error)

	Run(ctx context.Context, id string) (types.Run, error)
	Runs(ctx context.Context) ([]types.Run, error)
	Model(ctx context.Context, id string) (model.Set, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	runsHandler   *RunsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler: NewHealthHandler(deps),
		statsHandler:  NewStatsHandler(deps),
		runsHandler:   NewRunsHandler(deps),
	}
}

// Register attaches all HTTP routes to mux. Every route except /metrics is
// instrumented under its endpoint label.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	routes := []struct {
		pattern  string
		endpoint string
		handler  http.HandlerFunc
	}{
		{"GET /healthz", "healthz", s.healthHandler.HandleHealth},
		{"GET /stats", "stats", s.statsHandler.HandleStats},
		{"POST /runs", "runs_submit", s.runsHandler.HandleSubmit},
		{"GET /runs", "runs_list", s.runsHandler.HandleList},
		{"GET /runs/{id}", "runs_get", s.runsHandler.HandleGet},
		{"GET /runs/{id}/model", "runs_model", s.runsHandler.HandleModel},
	}
	for _, rt := range routes {
		mux.HandleFunc(rt.pattern, Instrument(rt.endpoint, rt.handler))
	}
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
}
