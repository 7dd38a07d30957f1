package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	shared Pinger
}

// NewHealthHandler builds the handler. shared may be nil when no shared
// store is configured.
func NewHealthHandler(shared Pinger) *HealthHandler { return &HealthHandler{shared: shared} }

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "ready":
		// A shared store outage degrades to local state; report it but stay ready.
		if h.shared != nil {
			if err := h.shared.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusOK, MessageEnvelope{Message: "degraded"})
				return
			}
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
