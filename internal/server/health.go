package server

import (
	"context"
	"net/http"
	"time"
)

// isoMillis matches JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

// Probe reports whether the process should be considered alive.
type Probe func(ctx context.Context) error

type HealthHandler struct {
	service string
	probe   Probe
	now     func() time.Time
}

func NewHealthHandler(service string, probe Probe) *HealthHandler {
	return &HealthHandler{service: service, probe: probe, now: time.Now}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, methodNotAllowed())
		return
	}

	if h.probe != nil {
		if err := h.probe(r.Context()); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().UTC().Format(isoMillis),
		"service":   h.service,
	})
}
