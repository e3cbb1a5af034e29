package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/export"
	"github.com/canvaschat/canvaschat/internal/tree"
)

// ExportHandler serves subtree exports.
//
// Endpoint: GET /api/canvases/{id}/export?node=<uuid>&format=json|markdown
// Without a node parameter the canvas root is exported.
type ExportHandler struct {
	store  *canvas.Store
	logger *slog.Logger
}

func NewExportHandler(store *canvas.Store, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{store: store, logger: logger}
}

// RegisterRoutes registers export routes on the given mux.
func (h *ExportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/canvases/{id}/export", h.export)
}

func (h *ExportHandler) export(w http.ResponseWriter, r *http.Request) {
	canvasID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	cv, err := h.store.Canvas(r.Context(), canvasID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	rootID := cv.RootNodeID
	if nodeParam := r.URL.Query().Get("node"); nodeParam != "" {
		id, perr := uuid.Parse(nodeParam)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid node id")
			return
		}
		rootID = &id
	}
	if rootID == nil {
		writeError(w, http.StatusNotFound, "not_found", "canvas has no root node")
		return
	}

	nodes, err := h.store.NodesByCanvas(r.Context(), canvasID)
	if err != nil {
		h.logger.Error("loading canvas nodes", "canvas_id", canvasID, "error", err)
		writeStoreError(w, err)
		return
	}
	nav := tree.NewNavigator(nodes)

	switch r.URL.Query().Get("format") {
	case "", "json":
		records := export.Records(nav, *rootID)
		if records == nil {
			writeError(w, http.StatusNotFound, "not_found", "node not in canvas")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"canvas": cv.Name,
			"nodes":  records,
		})
	case "markdown":
		md := export.Markdown(nav, *rootID)
		if md == "" {
			writeError(w, http.StatusNotFound, "not_found", "node not in canvas")
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if _, werr := w.Write([]byte(md)); werr != nil {
			h.logger.Error("writing markdown export", "error", werr)
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "format must be json or markdown")
	}
}
