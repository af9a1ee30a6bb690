package api

import (
	"log/slog"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/hashchain"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/ratelimit"
)

// Context keys set by the auth middleware.
const (
	ctxTenantID = "tenantID"
	ctxAPIKeyID = "apiKeyID"
)

// authenticate resolves the caller's API key to a tenant and enforces the
// per-key rate limit. The raw key travels in the Authorization header; SSE
// clients that cannot set headers may pass it as the token query parameter.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.cfg.AuthDisabled {
			tenantID := c.Request().Header.Get("X-Tenant-ID")
			if tenantID == "" {
				tenantID = "default"
			}
			c.Set(ctxTenantID, tenantID)
			return next(c)
		}

		rawKey := bearerToken(c)
		if rawKey == "" {
			return respondError(c, models.NewError(models.KindAuth, "missing API key"))
		}

		key, err := s.deps.Provider.APIKeys().GetAPIKeyByHash(
			c.Request().Context(), hashchain.HashContent(rawKey))
		if err != nil {
			if models.IsKind(err, models.KindNotFound) {
				return respondError(c, models.NewError(models.KindAuth, "invalid API key"))
			}
			return respondError(c, err)
		}

		if s.deps.Limiter != nil && !s.deps.Limiter.Allow(key.ID, key.RateLimit) {
			return respondError(c, &models.Error{
				Kind:              models.KindRateLimited,
				Message:           "rate limit exceeded",
				RetryAfterSeconds: int(ratelimit.DefaultRefillInterval.Seconds()),
			})
		}

		if err := s.deps.Provider.APIKeys().TouchAPIKey(
			c.Request().Context(), key.ID, time.Now().UTC()); err != nil {
			slog.Debug("API key touch failed", "key_id", key.ID, "error", err)
		}

		c.Set(ctxTenantID, key.TenantID)
		c.Set(ctxAPIKeyID, key.ID)
		return next(c)
	}
}

// bearerToken extracts the raw API key from the Authorization header or the
// token query parameter.
func bearerToken(c *echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("token")
}

// tenantID returns the tenant bound by the auth middleware.
func tenantID(c *echo.Context) string {
	if v, ok := c.Get(ctxTenantID).(string); ok {
		return v
	}
	return ""
}
