package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/dungeon-ledger/internal/services"
	"github.com/jwebster45206/dungeon-ledger/pkg/ledger"
)

type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Service    string            `json:"service"`
	Components map[string]string `json:"components"`
}

type HealthHandler struct {
	cache  services.Cache // optional
	ledger ledger.Ledger
	logger *slog.Logger
}

func NewHealthHandler(cache services.Cache, l ledger.Ledger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cache:  cache,
		ledger: l,
		logger: logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]string)
	overallStatus := "healthy"

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("Cache health check failed", "error", err)
			components["cache"] = "unhealthy"
			overallStatus = "degraded"
		} else {
			components["cache"] = "healthy"
		}
	}

	// A cheap read proves the node answers and the contract is deployed.
	if _, err := h.ledger.TotalSupply(ctx); err != nil {
		h.logger.Warn("Ledger health check failed", "error", err)
		components["ledger"] = "unhealthy"
		overallStatus = "degraded"
	} else {
		components["ledger"] = "healthy"
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "dungeon-ledger",
		Components: components,
	})
}
