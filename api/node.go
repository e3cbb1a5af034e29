package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// NodeHandler handles node-level HTTP endpoints.
type NodeHandler struct {
	store  *canvas.Store
	logger *slog.Logger
}

func NewNodeHandler(store *canvas.Store, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{store: store, logger: logger}
}

// RegisterRoutes registers node routes on the given mux.
func (h *NodeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/nodes", h.create)
	mux.HandleFunc("GET /api/nodes/{id}", h.get)
	mux.HandleFunc("PATCH /api/nodes/{id}", h.update)
	mux.HandleFunc("DELETE /api/nodes/{id}", h.delete)
	mux.HandleFunc("GET /api/nodes/{id}/attachments", h.attachments)
}

// CreateNodeRequest is the request body for creating a node directly,
// outside of a chat turn (notes, imported content).
type CreateNodeRequest struct {
	CanvasID uuid.UUID       `json:"canvasId"`
	ParentID *uuid.UUID      `json:"parentId"`
	Role     canvas.Role     `json:"role"`
	Content  string          `json:"content"`
	Summary  string          `json:"summary"`
	Model    string          `json:"model"`
	Position canvas.Position `json:"position"`
}

func (h *NodeHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.CanvasID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "canvasId is required")
		return
	}

	node, err := h.store.CreateNode(r.Context(), canvas.NodeDraft{
		CanvasID: req.CanvasID,
		ParentID: req.ParentID,
		Role:     req.Role,
		Content:  req.Content,
		Summary:  req.Summary,
		Model:    req.Model,
		Position: req.Position,
	})
	if err != nil {
		h.logger.Error("creating node", "canvas_id", req.CanvasID, "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

// get returns a node together with its root-to-node path and
// descendant count, derived from one bulk load of the canvas.
func (h *NodeHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	node, err := h.store.Node(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	nodes, err := h.store.NodesByCanvas(r.Context(), node.CanvasID)
	if err != nil {
		h.logger.Error("loading canvas nodes", "canvas_id", node.CanvasID, "error", err)
		writeStoreError(w, err)
		return
	}
	nav := tree.NewNavigator(nodes)

	writeJSON(w, http.StatusOK, map[string]any{
		"node":            node,
		"path":            nav.PathToRoot(id),
		"descendantCount": nav.DescendantCount(id),
	})
}

// UpdateNodeRequest carries optional node mutations; absent fields are
// left unchanged.
type UpdateNodeRequest struct {
	Content           *string          `json:"content"`
	Summary           *string          `json:"summary"`
	CompressedContent *string          `json:"compressedContent"`
	IsCompressed      *bool            `json:"isCompressed"`
	IsCollapsed       *bool            `json:"isCollapsed"`
	Position          *canvas.Position `json:"position"`
}

func (h *NodeHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	update := canvas.NodeUpdate{
		Content:           req.Content,
		Summary:           req.Summary,
		CompressedContent: req.CompressedContent,
		IsCompressed:      req.IsCompressed,
		IsCollapsed:       req.IsCollapsed,
		Position:          req.Position,
	}
	if err := h.store.UpdateNode(r.Context(), id, update); err != nil {
		writeStoreError(w, err)
		return
	}

	node, err := h.store.Node(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// delete removes the node and its whole subtree. Deleting an already
// absent node succeeds.
func (h *NodeHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteNode(r.Context(), id); err != nil {
		h.logger.Error("deleting node", "node_id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NodeHandler) attachments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	attachments, err := h.store.AttachmentsByNode(r.Context(), id)
	if err != nil {
		h.logger.Error("listing attachments", "node_id", id, "error", err)
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attachments": attachments,
		"total":       len(attachments),
	})
}
