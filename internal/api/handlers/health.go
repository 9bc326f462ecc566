package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/pratik-mahalle/vitalsync/internal/pkg/logger"
	"github.com/pratik-mahalle/vitalsync/internal/pkg/utils"
)

// Check probes one dependency
type Check func(ctx context.Context) error

// HealthHandler handles health check requests
type HealthHandler struct {
	checks map[string]Check
	logger *logger.Logger
}

// NewHealthHandler creates a health handler. checks are keyed by the name
// reported in readiness responses, e.g. "database" or "redis".
func NewHealthHandler(checks map[string]Check, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: log,
	}
}

// Healthz handles liveness probe
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccess(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Readyz runs every dependency check and fails if any of them does
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := map[string]string{"status": "ready"}
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.With("check", name).ErrorWithErr(err, "Readiness check failed")
			utils.WriteErrorMessage(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", name+" is unavailable")
			return
		}
		status[name] = "up"
	}

	utils.WriteSuccess(w, http.StatusOK, status)
}
