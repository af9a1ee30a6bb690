package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
	"github.com/agentlensai/agentlens/pkg/store"
)

// defaultPageSize bounds query results unless the caller asks for less.
const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// listEventsHandler handles GET /api/events.
func (s *Server) listEventsHandler(c *echo.Context) error {
	filter, err := parseEventFilter(c)
	if err != nil {
		return respondError(c, err)
	}

	page, err := s.deps.Provider.ForTenant(tenantID(c)).QueryEvents(c.Request().Context(), *filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// getEventHandler handles GET /api/events/:id.
func (s *Server) getEventHandler(c *echo.Context) error {
	ev, err := s.deps.Provider.ForTenant(tenantID(c)).GetEvent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ev)
}

func parseEventFilter(c *echo.Context) (*store.EventFilter, error) {
	filter := &store.EventFilter{
		SessionID: c.QueryParam("sessionId"),
		AgentID:   c.QueryParam("agentId"),
		Search:    c.QueryParam("search"),
		Limit:     defaultPageSize,
		Order:     store.OrderDesc,
	}

	if v := c.QueryParam("eventType"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			et := models.EventType(raw)
			if !et.Valid() {
				return nil, models.ValidationError("unknown eventType: " + raw)
			}
			filter.EventTypes = append(filter.EventTypes, et)
		}
	}
	if v := c.QueryParam("severity"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			sev := models.Severity(raw)
			if !sev.Valid() {
				return nil, models.ValidationError("unknown severity: " + raw)
			}
			filter.Severities = append(filter.Severities, sev)
		}
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return nil, err
	}
	filter.From = from
	filter.To = to

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return nil, models.ValidationError("limit must be between 1 and " + strconv.Itoa(maxPageSize))
		}
		filter.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, models.ValidationError("offset must be non-negative")
		}
		filter.Offset = n
	}
	switch v := c.QueryParam("order"); v {
	case "", "desc":
	case "asc":
		filter.Order = store.OrderAsc
	default:
		return nil, models.ValidationError("order must be asc or desc")
	}
	return filter, nil
}

// parseTimeRange reads the optional RFC3339 from/to query parameters.
func parseTimeRange(c *echo.Context) (*time.Time, *time.Time, error) {
	var from, to *time.Time
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, models.ValidationError("invalid from: must be RFC3339")
		}
		from = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, nil, models.ValidationError("invalid to: must be RFC3339")
		}
		to = &t
	}
	return from, to, nil
}
