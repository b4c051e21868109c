// Package api exposes the intelligence backend over HTTP: the SSE chat
// stream, the multimodal variant, session inspection, operation resume and
// cancellation, the WebSocket event feed, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/viacanvas/intelligence/pkg/agent"
	"github.com/viacanvas/intelligence/pkg/agent/controller"
	"github.com/viacanvas/intelligence/pkg/bus"
	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/database"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/queue"
	"github.com/viacanvas/intelligence/pkg/services"
	"github.com/viacanvas/intelligence/pkg/session"
)

// Responder handles one chat turn, streaming mid-turn output to emit and
// returning the final answer. Implemented by *agent.Orchestrator.
type Responder interface {
	Respond(ctx context.Context, turn *agent.Turn, emit controller.Emitter) (string, error)
}

// StreamConverter turns an uploaded byte stream into an extraction payload.
// Implemented by *extract.Service.
type StreamConverter interface {
	ConvertStream(ctx context.Context, data []byte, info extract.StreamInfo) (*extract.Payload, error)
}

// Server is the HTTP surface of the intelligence backend. The database
// client and worker pool may be nil (in-memory mode); the health report
// degrades accordingly.
type Server struct {
	cfg        *config.ServerConfig
	sessions   *session.Manager
	responder  Responder
	operations *services.OperationService
	converter  StreamConverter
	events     *bus.Bus
	pool       *queue.WorkerPool
	db         *database.Client
	feed       *Feed
	logger     *slog.Logger

	echo *echo.Echo
	http *http.Server
}

// NewServer wires the HTTP server. feed may be nil to disable the
// WebSocket event feed.
func NewServer(
	cfg *config.ServerConfig,
	sessions *session.Manager,
	responder Responder,
	operations *services.OperationService,
	converter StreamConverter,
	events *bus.Bus,
	pool *queue.WorkerPool,
	db *database.Client,
	feed *Feed,
	logger *slog.Logger,
) *Server {
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		responder:  responder,
		operations: operations,
		converter:  converter,
		events:     events,
		pool:       pool,
		db:         db,
		feed:       feed,
		logger:     logger.With("component", "api"),
	}
	s.echo = s.routes()
	return s
}

// routes builds the echo instance with all handlers registered.
func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.Use(securityHeaders())
	if len(s.cfg.AllowedOrigins) > 0 {
		e.Use(corsHeaders(s.cfg.AllowedOrigins))
	}

	e.GET("/health", s.healthHandler)

	v1 := e.Group("/api/v1")
	v1.POST("/chat/stream", s.chatStreamHandler)
	v1.POST("/chat/multimodal", s.chatMultimodalHandler)
	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.DELETE("/sessions/:id", s.deleteSessionHandler)
	v1.GET("/operations", s.listOperationsHandler)
	v1.POST("/operations/:id/cancel", s.cancelOperationHandler)

	if s.feed != nil {
		e.GET("/ws", s.wsHandler)
	}

	return e
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown or a listener error. WriteTimeout stays zero
// because SSE responses are long-lived.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
