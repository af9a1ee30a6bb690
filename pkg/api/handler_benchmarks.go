package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
)

// listBenchmarksHandler handles GET /api/benchmarks.
func (s *Server) listBenchmarksHandler(c *echo.Context) error {
	benchmarks, err := s.deps.Provider.ForTenant(tenantID(c)).ListBenchmarks(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"benchmarks": benchmarks})
}

// createBenchmarkHandler handles POST /api/benchmarks.
func (s *Server) createBenchmarkHandler(c *echo.Context) error {
	var b models.Benchmark
	if err := c.Bind(&b); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateBenchmark(&b); err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	b.ID = uuid.NewString()
	b.TenantID = tenantID(c)
	if b.Status == "" {
		b.Status = models.BenchmarkDraft
	}
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.deps.Provider.ForTenant(b.TenantID).CreateBenchmark(c.Request().Context(), &b); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// getBenchmarkHandler handles GET /api/benchmarks/:id.
func (s *Server) getBenchmarkHandler(c *echo.Context) error {
	b, err := s.deps.Provider.ForTenant(tenantID(c)).GetBenchmark(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// updateBenchmarkHandler handles PUT /api/benchmarks/:id. Moving a benchmark
// to completed freezes its results on the next computation.
func (s *Server) updateBenchmarkHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	existing, err := st.GetBenchmark(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	var b models.Benchmark
	if err := c.Bind(&b); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateBenchmark(&b); err != nil {
		return respondError(c, err)
	}

	b.ID = existing.ID
	b.TenantID = existing.TenantID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	if b.Status == "" {
		b.Status = existing.Status
	}

	if err := st.UpdateBenchmark(c.Request().Context(), &b); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// benchmarkResultsHandler handles GET /api/benchmarks/:id/results.
func (s *Server) benchmarkResultsHandler(c *echo.Context) error {
	results, err := s.deps.Benchmarks.Results(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, results)
}

func validateBenchmark(b *models.Benchmark) error {
	var details []string
	if b.Name == "" {
		details = append(details, "name is required")
	}
	if len(b.Variants) < 2 {
		details = append(details, "at least two variants are required")
	}
	seen := make(map[string]bool)
	for _, v := range b.Variants {
		if v.Tag == "" {
			details = append(details, "variant tag is required")
			continue
		}
		if seen[v.Tag] {
			details = append(details, "duplicate variant tag: "+v.Tag)
		}
		seen[v.Tag] = true
	}
	if len(b.Metrics) == 0 {
		details = append(details, "at least one metric is required")
	}
	for _, m := range b.Metrics {
		if !m.Valid() {
			details = append(details, "unknown metric: "+string(m))
		}
	}
	if len(details) > 0 {
		return models.ValidationError("invalid benchmark", details...)
	}
	return nil
}
