package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/replay"
)

// recallHandler handles GET /api/recall: semantic search over events,
// session summaries, and lessons.
func (s *Server) recallHandler(c *echo.Context) error {
	if s.deps.Search == nil {
		return respondError(c, models.NewError(models.KindDependency, "no embedding service configured"))
	}

	q := embedding.RecallQuery{
		Query:   c.QueryParam("query"),
		AgentID: c.QueryParam("agentId"),
	}
	if v := c.QueryParam("scope"); v != "" {
		scope := models.SourceType(v)
		if !scope.Valid() {
			return respondError(c, models.ValidationError("unknown scope: "+v))
		}
		q.Scope = scope
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			return respondError(c, models.ValidationError("limit must be between 1 and 100"))
		}
		q.Limit = n
	}
	if v := c.QueryParam("minScore"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return respondError(c, models.ValidationError("minScore must be between 0 and 1"))
		}
		q.MinScore = f
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		return respondError(c, err)
	}
	q.From = from
	q.To = to

	matches, err := s.deps.Search.Recall(c.Request().Context(), tenantID(c), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": matches})
}

// contextHandler handles GET /api/context: cross-session context assembly
// for an agent starting a new task.
func (s *Server) contextHandler(c *echo.Context) error {
	if s.deps.Search == nil {
		return respondError(c, models.NewError(models.KindDependency, "no embedding service configured"))
	}

	q := embedding.ContextQuery{
		Topic:   c.QueryParam("topic"),
		UserID:  c.QueryParam("userId"),
		AgentID: c.QueryParam("agentId"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			return respondError(c, models.ValidationError("limit must be between 1 and 100"))
		}
		q.Limit = n
	}

	result, err := s.deps.Search.Context(c.Request().Context(), tenantID(c), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// reflectHandler handles GET /api/reflect: aggregate diagnostics over the
// event history.
func (s *Server) reflectHandler(c *echo.Context) error {
	q := replay.ReflectQuery{
		Analysis: c.QueryParam("analysis"),
		AgentID:  c.QueryParam("agentId"),
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return respondError(c, models.ValidationError("limit must be positive"))
		}
		q.Limit = n
	}
	from, to, err := parseTimeRange(c)
	if err != nil {
		return respondError(c, err)
	}
	q.From = from
	q.To = to

	result, err := s.deps.Replay.Reflect(c.Request().Context(), tenantID(c), q)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// snapshotHandler handles GET /api/snapshot.
func (s *Server) snapshotHandler(c *echo.Context) error {
	snap, err := s.deps.Replay.Snapshot(c.Request().Context(), tenantID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}
