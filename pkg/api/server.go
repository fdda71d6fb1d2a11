// Package api is the HTTP control surface: session CRUD and the
// coordination verbs, prompt queue operations, webhook receivers for
// the external integrations, the WebSocket upgrade and the health and
// metrics endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/config"
	"github.com/codeready-toolchain/huddle/pkg/dispatch"
	"github.com/codeready-toolchain/huddle/pkg/gateway"
	"github.com/codeready-toolchain/huddle/pkg/github"
	"github.com/codeready-toolchain/huddle/pkg/metrics"
	"github.com/codeready-toolchain/huddle/pkg/session"
	"github.com/codeready-toolchain/huddle/pkg/slack"
)

// Server owns the echo instance and the coordination-core handles the
// handlers call into. Integration adapters and the dispatcher may be
// nil; the affected endpoints answer 503.
type Server struct {
	cfg        *config.Config
	sessions   *session.Store
	gateway    *gateway.Gateway
	github     *github.Adapter
	slack      *slack.Adapter
	dispatcher *dispatch.Pool
	metrics    *metrics.Metrics

	echo       *echo.Echo
	httpServer *http.Server
}

// NewServer wires all routes onto a fresh echo instance.
func NewServer(
	cfg *config.Config,
	sessions *session.Store,
	gw *gateway.Gateway,
	gh *github.Adapter,
	sl *slack.Adapter,
	pool *dispatch.Pool,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		gateway:    gw,
		github:     gh,
		slack:      sl,
		dispatcher: pool,
		metrics:    m,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(errorEnvelope())
	s.echo = e
	s.routes()

	return s
}

// routes registers every endpoint. Paths follow the control-surface
// table: coordination verbs under /api/v1/multiplayer, webhook
// receivers under /webhook, health and metrics at the root.
func (s *Server) routes() {
	e := s.echo

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)

	// Session lifecycle
	e.POST("/api/v1/multiplayer", s.createSessionHandler)
	e.GET("/api/v1/multiplayer", s.listSessionsHandler)
	e.GET("/api/v1/multiplayer/:id", s.getSessionHandler)
	e.DELETE("/api/v1/multiplayer/:id", s.deleteSessionHandler)

	// Membership
	e.POST("/api/v1/multiplayer/:id/join", s.joinSessionHandler)
	e.POST("/api/v1/multiplayer/:id/leave", s.leaveSessionHandler)

	// Coordination
	e.POST("/api/v1/multiplayer/:id/lock", s.acquireLockHandler)
	e.DELETE("/api/v1/multiplayer/:id/lock", s.releaseLockHandler)
	e.PUT("/api/v1/multiplayer/:id/cursor", s.updateCursorHandler)
	e.POST("/api/v1/multiplayer/:id/state", s.updateStateHandler)
	e.PUT("/api/v1/multiplayer/:id/state", s.updateStateHandler)

	// Prompt queue
	e.POST("/api/v1/multiplayer/:id/prompt", s.enqueuePromptHandler)
	e.GET("/api/v1/multiplayer/:id/prompt", s.getQueueHandler)
	e.POST("/api/v1/multiplayer/:id/prompt/:pid", s.reorderPromptHandler)
	e.DELETE("/api/v1/multiplayer/:id/prompt/:pid", s.cancelPromptHandler)

	// WebSocket
	e.GET("/api/v1/multiplayer/:id/ws", s.wsHandler)

	// Webhook receivers
	e.POST("/webhook/github", s.githubWebhookHandler)
	e.POST("/webhook/slack/events", s.slackEventsHandler)
	e.POST("/webhook/slack/interactions", s.slackInteractionsHandler)
}

// metricsHandler handles GET /metrics by delegating to the Prometheus
// scrape handler.
func (s *Server) metricsHandler(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// Handler exposes the route tree for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start begins serving on addr. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
