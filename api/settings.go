package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/canvaschat/canvaschat/internal/settings"
)

// SettingsHandler reads and writes the stored API settings.
type SettingsHandler struct {
	store  *settings.Store
	logger *slog.Logger
}

func NewSettingsHandler(store *settings.Store, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, logger: logger}
}

// RegisterRoutes registers settings routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/settings", h.get)
	mux.HandleFunc("PUT /api/settings", h.put)
}

// SettingsResponse is the settings payload with keys masked. Full keys
// never leave the process once stored.
type SettingsResponse struct {
	OpenAIKeySet bool   `json:"openaiKeySet"`
	GoogleKeySet bool   `json:"googleKeySet"`
	DefaultModel string `json:"defaultModel"`
}

func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context())
	if err != nil {
		h.logger.Error("reading settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		OpenAIKeySet: s.OpenAIKey != "",
		GoogleKeySet: s.GoogleKey != "",
		DefaultModel: s.DefaultModel,
	})
}

// PutSettingsRequest replaces the stored settings wholesale.
type PutSettingsRequest struct {
	OpenAIKey    string `json:"openaiKey"`
	GoogleKey    string `json:"googleKey"`
	DefaultModel string `json:"defaultModel"`
}

func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request) {
	var req PutSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	saved, err := h.store.Save(r.Context(), settings.Settings{
		OpenAIKey:    req.OpenAIKey,
		GoogleKey:    req.GoogleKey,
		DefaultModel: req.DefaultModel,
	})
	if err != nil {
		h.logger.Error("saving settings", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, SettingsResponse{
		OpenAIKeySet: saved.OpenAIKey != "",
		GoogleKeySet: saved.GoogleKey != "",
		DefaultModel: saved.DefaultModel,
	})
}
