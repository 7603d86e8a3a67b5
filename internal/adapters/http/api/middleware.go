package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/okian/hoopcal/pkg/logger"
	"github.com/okian/hoopcal/pkg/metrics"
)

// Instrument records request count, latency and error class for one route.
// Server errors are also logged with the route and method.
func Instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		code := strconv.Itoa(rec.status)
		took := time.Since(start)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(took.Milliseconds()))

		class := errorClass(rec.status)
		if class == "" {
			return
		}
		metrics.RecordErrorByComponent("http_"+endpoint, class)
		if rec.status >= http.StatusInternalServerError {
			logger.Get().Named("http").Error(r.Context(), "request failed",
				logger.String("endpoint", endpoint),
				logger.String("method", r.Method),
				logger.Int("status", rec.status),
				logger.Duration("took", took))
		}
	}
}

// errorClass names the error metric label of a status code; "" for success.
func errorClass(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return ""
	case status == http.StatusTooManyRequests:
		return "backpressure"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= http.StatusInternalServerError:
		return "server_error"
	default:
		return "client_error"
	}
}

// statusRecorder remembers the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
