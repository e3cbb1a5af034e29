package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/canvaschat/canvaschat/internal/chat"
)

// ChatHandler runs conversation turns over SSE.
//
// Endpoint: POST /api/chat
//
// Event types:
//   - node:  nodes created before generation {"userNode": ..., "assistantNode": ...}
//   - chunk: partial text {"text": "..."}
//   - done:  final result {"userNode": ..., "assistantNode": ..., "children": [...]}
//   - error: failure {"code": "...", "message": "..."}
type ChatHandler struct {
	chat   *chat.Service
	logger *slog.Logger
}

func NewChatHandler(svc *chat.Service, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: svc, logger: logger}
}

// RegisterRoutes registers chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleStream)
}

// SSEChunkData is the data for "chunk" events.
type SSEChunkData struct {
	Text string `json:"text"`
}

// SSEErrorData is the data for "error" events.
type SSEErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleStream runs one turn and streams the reply as Server-Sent
// Events. Closing the connection cancels generation; content streamed
// before the cancel stays persisted.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	var req chat.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeSSEError(w, flusher, "INVALID_REQUEST", fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.CanvasID == uuid.Nil {
		h.writeSSEError(w, flusher, "MISSING_CANVAS_ID", "canvasId is required")
		return
	}
	if req.Content == "" {
		h.writeSSEError(w, flusher, "MISSING_CONTENT", "content is required")
		return
	}

	ctx := r.Context()
	h.logger.Info("chat stream started", "canvas_id", req.CanvasID)

	result, err := h.chat.Send(ctx, req, func(_ context.Context, text string) error {
		h.writeSSEEvent(w, flusher, "chunk", SSEChunkData{Text: text})
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "canvas_id", req.CanvasID)
			return
		}
		h.logger.Error("chat turn failed", "canvas_id", req.CanvasID, "error", err)
		h.writeSSEError(w, flusher, "STREAM_ERROR", err.Error())
		return
	}

	h.writeSSEEvent(w, flusher, "done", result)
	h.logger.Info("chat stream completed",
		"canvas_id", req.CanvasID,
		"assistant_node", result.AssistantNode.ID,
		"children", len(result.Children))
}

func (h *ChatHandler) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encoding SSE payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	flusher.Flush()
}

func (h *ChatHandler) writeSSEError(w http.ResponseWriter, flusher http.Flusher, code, message string) {
	h.writeSSEEvent(w, flusher, "error", SSEErrorData{Code: code, Message: message})
}
