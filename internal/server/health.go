package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafexchange/internal/fragment"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// The fragment is ready once every exchange has its required senders and
// it has not failed.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", zap.Int("status_code", statusCode), zap.Error(err))
	}
}

// FragmentHealth reports the health of a receiving fragment.
type FragmentHealth struct {
	readiness *fragment.Readiness
	fctx      *fragment.Context
}

// NewFragmentHealth returns a checker over the fragment's readiness counter
// and failure channel.
func NewFragmentHealth(readiness *fragment.Readiness, fctx *fragment.Context) *FragmentHealth {
	return &FragmentHealth{readiness: readiness, fctx: fctx}
}

// Liveness is true while the process is serving.
func (h *FragmentHealth) Liveness() bool {
	return true
}

// Readiness is true once the fragment became runnable and has not failed.
func (h *FragmentHealth) Readiness(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return h.readiness.IsReady() && !h.fctx.Failed()
}

// IsHealthy reports whether the fragment has not failed.
func (h *FragmentHealth) IsHealthy() bool {
	return !h.fctx.Failed()
}

// GetStatus returns the individual checks.
func (h *FragmentHealth) GetStatus() map[string]string {
	status := map[string]string{
		"exchanges_waiting": strconv.FormatInt(max(h.readiness.Remaining(), 0), 10),
		"fragment":          "running",
	}
	if err := h.fctx.Err(); err != nil {
		status["fragment"] = "failed: " + err.Error()
	}
	return status
}
