package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const serviceName = "alignment-engine"

// Pinger is anything whose connectivity the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports how many sessions are held in memory.
type SessionCounter interface {
	Len() int
}

type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Components map[string]any `json:"components"`
}

type HealthHandler struct {
	store    Pinger
	backend  string
	sessions SessionCounter
	logger   *slog.Logger
}

// NewHealthHandler reports on store, labelled with its backend name.
// sessions may be nil.
func NewHealthHandler(store Pinger, backend string, sessions SessionCounter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:    store,
		backend:  backend,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]any)
	overallStatus := "healthy"

	storeStatus := "healthy"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Storage health check failed", "backend", h.backend, "error", err)
		storeStatus = "unhealthy"
		overallStatus = "degraded"
	}
	components["storage"] = map[string]string{
		"backend": h.backend,
		"status":  storeStatus,
	}
	if h.sessions != nil {
		components["active_sessions"] = h.sessions.Len()
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, h.logger, statusCode, HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    serviceName,
		Components: components,
	})
}
