package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted       = errors.New("service not started")
	ErrInvalidRequest   = errors.New("invalid run request")
	ErrBackpressure     = errors.New("run queue full")
	ErrModelUnavailable = errors.New("run has no calibrated model")
	ErrStopped          = errors.New("service stopped before the run finished")
)
