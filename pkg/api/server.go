// Package api exposes the HTTP surface: event ingest, queries, semantic
// recall, rule CRUD, live streaming, webhooks, compliance export, and
// health/metrics endpoints.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/benchmark"
	"github.com/agentlensai/agentlens/pkg/bus"
	"github.com/agentlensai/agentlens/pkg/config"
	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/ingest"
	"github.com/agentlensai/agentlens/pkg/notify"
	"github.com/agentlensai/agentlens/pkg/queue"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
	"github.com/agentlensai/agentlens/pkg/replay"
	"github.com/agentlensai/agentlens/pkg/store"
)

// Deps are the server's collaborators. Queue, Writer, Search, Embeddings,
// Router, Quota, and DB are optional; the corresponding endpoints degrade
// gracefully when they are nil.
type Deps struct {
	Provider   store.Provider
	Pipeline   *ingest.Pipeline
	Queue      queue.Queue
	Writer     *queue.Writer
	Bus        *bus.Bus
	Search     *embedding.SearchService
	Embeddings embedding.Enqueuer
	Replay     *replay.Service
	Benchmarks *benchmark.Engine
	Router     *notify.Router
	Limiter    *ratelimit.Limiter
	Quota      *ratelimit.QuotaChecker
	DB         *sql.DB
}

// Server is the HTTP API server.
type Server struct {
	cfg  *config.Config
	deps Deps
	echo *echo.Echo
	srv  *http.Server
}

// NewServer creates the server and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(corsMiddleware(cfg.CORSOrigin))

	e.GET("/health", s.healthHandler)
	e.GET("/metrics", s.metricsHandler)

	// Webhook ingest authenticates by HMAC signature, not API key.
	e.POST("/api/events/ingest", s.webhookHandler)

	g := e.Group("/api", s.authenticate)

	g.POST("/events", s.ingestHandler)
	g.GET("/events", s.listEventsHandler)
	g.GET("/events/:id", s.getEventHandler)

	g.GET("/sessions", s.listSessionsHandler)
	g.GET("/sessions/:id", s.getSessionHandler)
	g.GET("/sessions/:id/timeline", s.timelineHandler)
	g.GET("/sessions/:id/replay", s.replayHandler)
	g.PUT("/sessions/:id/tags", s.setSessionTagsHandler)

	g.GET("/agents", s.listAgentsHandler)
	g.GET("/agents/:id", s.getAgentHandler)
	g.POST("/agents/:id/pause", s.pauseAgentHandler)
	g.POST("/agents/:id/resume", s.resumeAgentHandler)

	g.GET("/recall", s.recallHandler)
	g.GET("/context", s.contextHandler)
	g.GET("/reflect", s.reflectHandler)
	g.GET("/snapshot", s.snapshotHandler)

	g.GET("/alerts/rules", s.listAlertRulesHandler)
	g.POST("/alerts/rules", s.createAlertRuleHandler)
	g.GET("/alerts/rules/:id", s.getAlertRuleHandler)
	g.PUT("/alerts/rules/:id", s.updateAlertRuleHandler)
	g.DELETE("/alerts/rules/:id", s.deleteAlertRuleHandler)
	g.GET("/alerts/history", s.alertHistoryHandler)

	g.GET("/guardrails", s.listGuardrailsHandler)
	g.POST("/guardrails", s.createGuardrailHandler)
	g.GET("/guardrails/:id", s.getGuardrailHandler)
	g.PUT("/guardrails/:id", s.updateGuardrailHandler)
	g.DELETE("/guardrails/:id", s.deleteGuardrailHandler)
	g.GET("/guardrails/:id/status", s.guardrailStatusHandler)

	g.GET("/channels", s.listChannelsHandler)
	g.POST("/channels", s.createChannelHandler)
	g.GET("/channels/:id", s.getChannelHandler)
	g.PUT("/channels/:id", s.updateChannelHandler)
	g.DELETE("/channels/:id", s.deleteChannelHandler)
	g.POST("/channels/:id/test", s.testChannelHandler)
	g.GET("/notifications/log", s.notificationLogHandler)

	g.GET("/benchmarks", s.listBenchmarksHandler)
	g.POST("/benchmarks", s.createBenchmarkHandler)
	g.GET("/benchmarks/:id", s.getBenchmarkHandler)
	g.PUT("/benchmarks/:id", s.updateBenchmarkHandler)
	g.GET("/benchmarks/:id/results", s.benchmarkResultsHandler)

	g.GET("/lessons", s.listLessonsHandler)
	g.POST("/lessons", s.createLessonHandler)
	g.GET("/lessons/:id", s.getLessonHandler)
	g.PUT("/lessons/:id", s.updateLessonHandler)
	g.DELETE("/lessons/:id", s.archiveLessonHandler)

	g.GET("/export", s.exportHandler)
	g.GET("/quota", s.quotaHandler)
	g.DELETE("/tenant/data", s.purgeTenantHandler)
	g.GET("/system/queue", s.queueStatsHandler)

	g.GET("/stream", s.streamHandler)

	s.echo = e
	return s
}

// Start begins serving on the configured port. Blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              ":" + s.cfg.HTTPPort,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.srv.ListenAndServe()
}

// Shutdown stops the server, letting in-flight requests drain.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
