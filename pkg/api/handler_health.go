package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentlensai/agentlens/pkg/database"
	"github.com/agentlensai/agentlens/pkg/version"
)

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	body := map[string]any{
		"status":  "healthy",
		"version": version.Full(),
	}

	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		dbStatus, err := database.Ping(ctx, s.deps.DB)
		body["database"] = dbStatus
		if err != nil {
			body["status"] = "unhealthy"
			return c.JSON(http.StatusServiceUnavailable, body)
		}
	}

	if s.deps.Queue != nil {
		depth, err := s.deps.Queue.Length(c.Request().Context())
		if err == nil {
			body["queueDepth"] = depth
		}
	}
	return c.JSON(http.StatusOK, body)
}

// metricsHandler handles GET /metrics in Prometheus exposition format.
func (s *Server) metricsHandler(c *echo.Context) error {
	promhttp.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}
