package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/export"
	"github.com/agentlensai/agentlens/pkg/models"
)

// exportHandler handles GET /api/export: streams the tenant's event log in
// CSV or JSON for compliance requests.
func (s *Server) exportHandler(c *echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = export.FormatJSON
	}
	if format != export.FormatCSV && format != export.FormatJSON {
		return respondError(c, models.ValidationError("format must be csv or json"))
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		return respondError(c, err)
	}
	end := time.Now().UTC()
	start := end.AddDate(0, -1, 0)
	if from != nil {
		start = *from
	}
	if to != nil {
		end = *to
	}
	if !start.Before(end) {
		return respondError(c, models.ValidationError("from must be before to"))
	}

	filename := "events-" + start.Format("20060102") + "-" + end.Format("20060102") + "." + format
	h := c.Response().Header()
	h.Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if format == export.FormatCSV {
		h.Set("Content-Type", "text/csv; charset=utf-8")
	} else {
		h.Set("Content-Type", "application/json")
	}
	c.Response().WriteHeader(http.StatusOK)

	st := s.deps.Provider.ForTenant(tenantID(c))
	return export.Export(c.Request().Context(), st, start, end, format, c.Response())
}
