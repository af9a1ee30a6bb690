package api

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// listSessionsHandler handles GET /api/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filter := store.SessionFilter{
		AgentID: c.QueryParam("agentId"),
		Limit:   defaultPageSize,
	}
	if v := c.QueryParam("status"); v != "" {
		status := models.SessionStatus(v)
		if !status.Valid() {
			return respondError(c, models.ValidationError("unknown status: "+v))
		}
		filter.Status = status
	}
	if v := c.QueryParam("tags"); v != "" {
		filter.Tags = strings.Split(v, ",")
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		return respondError(c, err)
	}
	filter.From = from
	filter.To = to
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return respondError(c, models.ValidationError("limit must be between 1 and "+strconv.Itoa(maxPageSize)))
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return respondError(c, models.ValidationError("offset must be non-negative"))
		}
		filter.Offset = n
	}

	sessions, err := s.deps.Provider.ForTenant(tenantID(c)).QuerySessions(c.Request().Context(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// getSessionHandler handles GET /api/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.deps.Provider.ForTenant(tenantID(c)).GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

// timelineHandler handles GET /api/sessions/:id/timeline. The response always
// reports chain validity; a corrupt chain is surfaced, never hidden.
func (s *Server) timelineHandler(c *echo.Context) error {
	timeline, err := s.deps.Provider.ForTenant(tenantID(c)).GetSessionTimeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, timeline)
}

// replayHandler handles GET /api/sessions/:id/replay.
func (s *Server) replayHandler(c *echo.Context) error {
	result, err := s.deps.Replay.Replay(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type setTagsRequest struct {
	Tags []string `json:"tags"`
}

// setSessionTagsHandler handles PUT /api/sessions/:id/tags. Tags drive
// benchmark variant membership.
func (s *Server) setSessionTagsHandler(c *echo.Context) error {
	var req setTagsRequest
	if err := c.Bind(&req); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}

	st := s.deps.Provider.ForTenant(tenantID(c))
	if err := st.SetSessionTags(c.Request().Context(), c.Param("id"), req.Tags); err != nil {
		return respondError(c, err)
	}
	sess, err := st.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}
