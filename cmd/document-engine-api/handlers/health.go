package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/cache"
	"github.com/inkwell-ai/inkwell/libs/document-engine/internal/observability"
)

// dependencyCheckTimeout bounds each dependency ping during a health
// check.
const dependencyCheckTimeout = 2 * time.Second

// HealthHandler reports service liveness and dependency states.
type HealthHandler struct {
	logger  *observability.Logger
	db      *sql.DB
	cache   cache.Client
	version string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(logger *observability.Logger, db *sql.DB, cacheClient cache.Client, version string) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		db:      db,
		cache:   cacheClient,
		version: version,
	}
}

// HealthDTO represents the health check response.
type HealthDTO struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
	CheckedAt    time.Time         `json:"checkedAt"`
}

// Health handles GET /health. The endpoint stays 200 while the process
// is alive; dependency outages surface as a degraded status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dependencyCheckTimeout)
	defer cancel()

	deps := map[string]string{}
	status := "ok"

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			deps["database"] = "error: " + err.Error()
			status = "degraded"
		} else {
			deps["database"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			deps["cache"] = "error: " + err.Error()
			status = "degraded"
		} else {
			deps["cache"] = "ok"
		}
	}

	if status != "ok" {
		h.logger.Warn().Interface("dependencies", deps).Msg("Health check degraded")
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(HealthDTO{
		Status:       status,
		Service:      "document-engine",
		Version:      h.version,
		Dependencies: deps,
		CheckedAt:    time.Now().UTC(),
	}); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
