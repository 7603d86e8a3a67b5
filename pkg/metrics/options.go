package metrics

import (
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the "hoopcal" namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithSubsystem overrides the "calibration" subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Manager) {
		if subsystem != "" {
			m.subsystem = subsystem
		}
	}
}

// WithConstLabels attaches fixed labels, such as the fitted season, to every series.
func WithConstLabels(labels map[string]string) Option {
	return func(m *Manager) {
		if len(labels) > 0 {
			m.constLabels = maps.Clone(labels)
		}
	}
}

// WithHTTPBuckets sets the request latency buckets, in milliseconds.
func WithHTTPBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.httpBuckets = slices.Clone(buckets)
		}
	}
}

// WithRoundBuckets sets the calibration round duration buckets, in milliseconds.
func WithRoundBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.roundBuckets = slices.Clone(buckets)
		}
	}
}

// WithRunBuckets sets the calibration run duration buckets, in seconds.
func WithRunBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.runBuckets = slices.Clone(buckets)
		}
	}
}

// WithCalibrationSeries toggles the per-round series (rounds, RMSE, games,
// possessions). Run, queue, worker and HTTP series are always recorded.
func WithCalibrationSeries(enabled bool) Option {
	return func(m *Manager) {
		m.calibrationSeries = enabled
	}
}

// WithRegistry registers the metrics on r instead of the default registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}
