package api

import (
	"net/http"

	"github.com/canvaschat/canvaschat/internal/canvas"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct {
	store *canvas.Store
}

func NewHealthHandler(store *canvas.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
}

func (h *HealthHandler) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if _, err := h.store.Canvases(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}
