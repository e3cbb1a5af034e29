package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// Canvas validation constants.
const (
	MaxNameLength         = 100
	MaxSystemPromptLength = 10000
	MaxSearchQueryLength  = 500
)

// CanvasHandler handles canvas-level HTTP endpoints.
type CanvasHandler struct {
	store  *canvas.Store
	logger *slog.Logger
}

func NewCanvasHandler(store *canvas.Store, logger *slog.Logger) *CanvasHandler {
	return &CanvasHandler{store: store, logger: logger}
}

// RegisterRoutes registers canvas routes on the given mux.
func (h *CanvasHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/canvases", h.list)
	mux.HandleFunc("POST /api/canvases", h.create)
	mux.HandleFunc("GET /api/canvases/{id}", h.get)
	mux.HandleFunc("PATCH /api/canvases/{id}", h.update)
	mux.HandleFunc("DELETE /api/canvases/{id}", h.delete)
	mux.HandleFunc("GET /api/canvases/{id}/nodes", h.nodes)
	mux.HandleFunc("GET /api/canvases/{id}/search", h.search)
}

func (h *CanvasHandler) list(w http.ResponseWriter, r *http.Request) {
	canvases, err := h.store.Canvases(r.Context())
	if err != nil {
		h.logger.Error("listing canvases", "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"canvases": canvases,
		"total":    len(canvases),
	})
}

// CreateCanvasRequest is the request body for creating a canvas.
type CreateCanvasRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"systemPrompt"`
}

func (h *CanvasHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if len(req.Name) > MaxNameLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "name too long (max 100 characters)")
		return
	}
	if len(req.SystemPrompt) > MaxSystemPromptLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "system prompt too long (max 10000 characters)")
		return
	}

	cv, err := h.store.CreateCanvas(r.Context(), req.Name, req.SystemPrompt)
	if err != nil {
		h.logger.Error("creating canvas", "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cv)
}

func (h *CanvasHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	cv, err := h.store.Canvas(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	nodes, err := h.store.NodesByCanvas(r.Context(), id)
	if err != nil {
		h.logger.Error("loading canvas nodes", "canvas_id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"canvas": cv,
		"nodes":  nodes,
	})
}

// UpdateCanvasRequest carries optional canvas mutations; absent fields
// are left unchanged.
type UpdateCanvasRequest struct {
	Name         *string `json:"name"`
	SystemPrompt *string `json:"systemPrompt"`
	SplitMode    *bool   `json:"splitMode"`
}

func (h *CanvasHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Name != nil && (len(*req.Name) == 0 || len(*req.Name) > MaxNameLength) {
		writeError(w, http.StatusBadRequest, "invalid_request", "name must be 1-100 characters")
		return
	}
	if req.SystemPrompt != nil && len(*req.SystemPrompt) > MaxSystemPromptLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "system prompt too long (max 10000 characters)")
		return
	}

	update := canvas.CanvasUpdate{
		Name:         req.Name,
		SystemPrompt: req.SystemPrompt,
		SplitMode:    req.SplitMode,
	}
	if err := h.store.UpdateCanvas(r.Context(), id, update); err != nil {
		writeStoreError(w, err)
		return
	}

	cv, err := h.store.Canvas(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cv)
}

func (h *CanvasHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteCanvas(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nodes returns a canvas's node set. With visible=1 the nodes hidden
// under collapsed ancestors are filtered out.
func (h *CanvasHandler) nodes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.store.Canvas(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	nodes, err := h.store.NodesByCanvas(r.Context(), id)
	if err != nil {
		h.logger.Error("loading canvas nodes", "canvas_id", id, "error", err)
		writeStoreError(w, err)
		return
	}

	if r.URL.Query().Get("visible") == "1" {
		nodes = tree.NewNavigator(nodes).Visible()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"total": len(nodes),
	})
}

func (h *CanvasHandler) search(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}
	if len(query) > MaxSearchQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	nodes, err := h.store.SearchNodes(r.Context(), id, query)
	if err != nil {
		h.logger.Error("searching nodes", "canvas_id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": nodes,
		"total": len(nodes),
	})
}

// pathUUID parses the named path segment as a UUID, writing a 400 and
// returning ok=false when it is malformed.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
