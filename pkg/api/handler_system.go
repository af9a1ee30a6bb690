package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
)

// quotaHandler handles GET /api/quota.
func (s *Server) quotaHandler(c *echo.Context) error {
	if s.deps.Quota == nil {
		return c.JSON(http.StatusOK, &ratelimit.QuotaStatus{State: ratelimit.QuotaOK})
	}
	status, err := s.deps.Quota.Check(c.Request().Context(), tenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// queueStatsHandler handles GET /api/system/queue.
func (s *Server) queueStatsHandler(c *echo.Context) error {
	body := map[string]any{"enabled": s.deps.Queue != nil}
	if s.deps.Queue != nil {
		ctx := c.Request().Context()
		depth, err := s.deps.Queue.Length(ctx)
		if err != nil {
			return respondError(c, err)
		}
		dlq, err := s.deps.Queue.DLQLength(ctx)
		if err != nil {
			return respondError(c, err)
		}
		body["length"] = depth
		body["dlqLength"] = dlq
		body["backpressureThreshold"] = s.cfg.BackpressureThreshold
	}
	if s.deps.Writer != nil {
		body["writer"] = s.deps.Writer.Stats()
	}
	return c.JSON(http.StatusOK, body)
}

// purgeTenantHandler handles DELETE /api/tenant/data: the irreversible
// data-subject-rights erasure of everything the tenant has stored. Requires
// the confirm query parameter to guard against accidental calls.
func (s *Server) purgeTenantHandler(c *echo.Context) error {
	tenant := tenantID(c)
	if c.QueryParam("confirm") != tenant {
		return respondError(c, models.ValidationError("confirm query parameter must equal the tenant id"))
	}
	if err := s.deps.Provider.ForTenant(tenant).Purge(c.Request().Context()); err != nil {
		return respondError(c, err)
	}
	slog.Info("Tenant data purged", "tenant_id", tenant)
	return c.NoContent(http.StatusNoContent)
}
