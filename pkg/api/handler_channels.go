package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/notify"
)

// listChannelsHandler handles GET /api/channels.
func (s *Server) listChannelsHandler(c *echo.Context) error {
	channels, err := s.deps.Provider.ForTenant(tenantID(c)).ListChannels(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"channels": channels})
}

// createChannelHandler handles POST /api/channels.
func (s *Server) createChannelHandler(c *echo.Context) error {
	var channel models.NotificationChannel
	if err := c.Bind(&channel); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateChannel(&channel); err != nil {
		return respondError(c, err)
	}

	channel.ID = uuid.NewString()
	channel.TenantID = tenantID(c)
	channel.CreatedAt = time.Now().UTC()

	if err := s.deps.Provider.ForTenant(channel.TenantID).CreateChannel(c.Request().Context(), &channel); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, channel)
}

// getChannelHandler handles GET /api/channels/:id.
func (s *Server) getChannelHandler(c *echo.Context) error {
	channel, err := s.deps.Provider.ForTenant(tenantID(c)).GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, channel)
}

// updateChannelHandler handles PUT /api/channels/:id.
func (s *Server) updateChannelHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	existing, err := st.GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	var channel models.NotificationChannel
	if err := c.Bind(&channel); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateChannel(&channel); err != nil {
		return respondError(c, err)
	}

	channel.ID = existing.ID
	channel.TenantID = existing.TenantID
	channel.CreatedAt = existing.CreatedAt

	if err := st.UpdateChannel(c.Request().Context(), &channel); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, channel)
}

// deleteChannelHandler handles DELETE /api/channels/:id.
func (s *Server) deleteChannelHandler(c *echo.Context) error {
	if err := s.deps.Provider.ForTenant(tenantID(c)).DeleteChannel(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// testChannelHandler handles POST /api/channels/:id/test: delivers a test
// payload through the notification router.
func (s *Server) testChannelHandler(c *echo.Context) error {
	if s.deps.Router == nil {
		return respondError(c, models.NewError(models.KindDependency, "notification router is not running"))
	}
	tenant := tenantID(c)
	channel, err := s.deps.Provider.ForTenant(tenant).GetChannel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	s.deps.Router.Dispatch(c.Request().Context(), tenant, []string{channel.ID}, &notify.Payload{
		Source:      "test",
		Severity:    "info",
		Title:       "Test notification",
		Message:     "Delivery test for channel " + channel.Name,
		TriggeredAt: time.Now().UTC(),
	})
	return c.JSON(http.StatusAccepted, map[string]any{"dispatched": true})
}

// notificationLogHandler handles GET /api/notifications/log.
func (s *Server) notificationLogHandler(c *echo.Context) error {
	limit := defaultPageSize
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return respondError(c, models.ValidationError("limit must be between 1 and "+strconv.Itoa(maxPageSize)))
		}
		limit = n
	}
	entries, err := s.deps.Provider.ForTenant(tenantID(c)).ListNotificationLog(c.Request().Context(), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"log": entries})
}

func validateChannel(ch *models.NotificationChannel) error {
	var details []string
	if ch.Name == "" {
		details = append(details, "name is required")
	}
	if !ch.Type.Valid() {
		details = append(details, "unknown type: "+string(ch.Type))
	}
	if len(ch.Config) == 0 {
		details = append(details, "config is required")
	}
	if len(details) > 0 {
		return models.ValidationError("invalid channel", details...)
	}
	return nil
}
