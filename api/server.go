// Package api provides the HTTP REST API for the canvas chat service.
//
// Endpoints:
//
//	GET    /health                       → liveness probe
//	GET    /api/canvases                 → list canvases
//	POST   /api/canvases                 → create canvas
//	GET    /api/canvases/{id}            → canvas with its nodes
//	PATCH  /api/canvases/{id}            → rename / system prompt / split mode
//	DELETE /api/canvases/{id}            → delete canvas and everything in it
//	GET    /api/canvases/{id}/nodes      → nodes (visible=1 filters collapsed subtrees)
//	GET    /api/canvases/{id}/search     → search node content
//	GET    /api/canvases/{id}/export     → subtree export (format=json|markdown)
//	POST   /api/nodes                    → create node directly
//	GET    /api/nodes/{id}               → node with path metadata
//	PATCH  /api/nodes/{id}               → content / collapse / position / compression
//	DELETE /api/nodes/{id}               → delete node and its subtree
//	GET    /api/nodes/{id}/attachments   → list a node's attachments
//	POST   /api/chat                     → run a turn, stream reply via SSE
//	GET    /api/settings                 → stored API settings (keys masked)
//	PUT    /api/settings                 → replace stored API settings
//
// File structure mirrors the endpoint groups: server.go holds setup
// and lifecycle, the rest one handler type per group.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/canvaschat/canvaschat/internal/canvas"
	"github.com/canvaschat/canvaschat/internal/chat"
	"github.com/canvaschat/canvaschat/internal/settings"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "localhost:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the keep-alive idle bound.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the canvas chat REST API.
// Note: no WriteTimeout — SSE responses stay open for the duration of
// a model generation.
type Server struct {
	mux         *http.ServeMux
	logger      *slog.Logger
	corsOrigins []string

	health   *HealthHandler
	canvas   *CanvasHandler
	node     *NodeHandler
	chat     *ChatHandler
	export   *ExportHandler
	settings *SettingsHandler
}

// Config carries the server's dependencies and options.
type Config struct {
	Store       *canvas.Store
	Chat        *chat.Service
	Settings    *settings.Store
	Logger      *slog.Logger
	CORSOrigins []string
}

// NewServer creates an HTTP server with all routes registered.
func NewServer(cfg Config) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:      mux,
		logger:   cfg.Logger,
		health:   NewHealthHandler(cfg.Store),
		canvas:   NewCanvasHandler(cfg.Store, cfg.Logger),
		node:     NewNodeHandler(cfg.Store, cfg.Logger),
		chat:     NewChatHandler(cfg.Chat, cfg.Logger),
		export:   NewExportHandler(cfg.Store, cfg.Logger),
		settings: NewSettingsHandler(cfg.Settings, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.canvas.RegisterRoutes(mux)
	s.node.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.export.RegisterRoutes(mux)
	s.settings.RegisterRoutes(mux)

	s.corsOrigins = cfg.CORSOrigins
	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → cors → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		corsMiddleware(s.corsOrigins),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
