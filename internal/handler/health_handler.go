package handler

import (
	"context"
	"net/http"
	"time"

	"contest-core/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthChecker is a dependency that can report its own health
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check requests
type HealthHandler struct {
	responder
	checks  map[string]HealthChecker
	version string
}

// NewHealthHandler creates a new health handler reporting on checks
func NewHealthHandler(checks map[string]HealthChecker, version string, logger *logger.Logger) *HealthHandler {
	active := make(map[string]HealthChecker, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	return &HealthHandler{
		responder: responder{logger: logger},
		checks:    active,
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	Service      string            `json:"service"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// Check handles GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       "healthy",
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		Service:      "contest-core",
		Dependencies: make(map[string]string, len(h.checks)),
	}

	status := http.StatusOK
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check.Health(ctx)
		cancel()

		if err != nil {
			h.logger.WithError(err).WithField("dependency", name).Warn("Health check failed")
			response.Dependencies[name] = "unhealthy"
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Dependencies[name] = "healthy"
	}

	h.respondJSON(w, status, response)
}
