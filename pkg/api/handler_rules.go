package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
)

// listAlertRulesHandler handles GET /api/alerts/rules.
func (s *Server) listAlertRulesHandler(c *echo.Context) error {
	enabledOnly := c.QueryParam("enabled") == "true"
	rules, err := s.deps.Provider.ForTenant(tenantID(c)).ListAlertRules(c.Request().Context(), enabledOnly)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

// createAlertRuleHandler handles POST /api/alerts/rules.
func (s *Server) createAlertRuleHandler(c *echo.Context) error {
	var rule models.AlertRule
	if err := c.Bind(&rule); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateAlertRule(&rule); err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.TenantID = tenantID(c)
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.deps.Provider.ForTenant(rule.TenantID).CreateAlertRule(c.Request().Context(), &rule); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// getAlertRuleHandler handles GET /api/alerts/rules/:id.
func (s *Server) getAlertRuleHandler(c *echo.Context) error {
	rule, err := s.deps.Provider.ForTenant(tenantID(c)).GetAlertRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// updateAlertRuleHandler handles PUT /api/alerts/rules/:id.
func (s *Server) updateAlertRuleHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	existing, err := st.GetAlertRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	var rule models.AlertRule
	if err := c.Bind(&rule); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateAlertRule(&rule); err != nil {
		return respondError(c, err)
	}

	rule.ID = existing.ID
	rule.TenantID = existing.TenantID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := st.UpdateAlertRule(c.Request().Context(), &rule); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// deleteAlertRuleHandler handles DELETE /api/alerts/rules/:id.
func (s *Server) deleteAlertRuleHandler(c *echo.Context) error {
	if err := s.deps.Provider.ForTenant(tenantID(c)).DeleteAlertRule(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// alertHistoryHandler handles GET /api/alerts/history.
func (s *Server) alertHistoryHandler(c *echo.Context) error {
	limit := defaultPageSize
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxPageSize {
			return respondError(c, models.ValidationError("limit must be between 1 and "+strconv.Itoa(maxPageSize)))
		}
		limit = n
	}
	entries, err := s.deps.Provider.ForTenant(tenantID(c)).ListAlertHistory(
		c.Request().Context(), c.QueryParam("ruleId"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"history": entries})
}

func validateAlertRule(r *models.AlertRule) error {
	var details []string
	if r.Name == "" {
		details = append(details, "name is required")
	}
	if !r.Condition.Valid() {
		details = append(details, "unknown condition: "+string(r.Condition))
	}
	if r.Threshold <= 0 {
		details = append(details, "threshold must be positive")
	}
	if r.WindowMinutes <= 0 {
		details = append(details, "windowMinutes must be positive")
	}
	if len(details) > 0 {
		return models.ValidationError("invalid alert rule", details...)
	}
	return nil
}

// listGuardrailsHandler handles GET /api/guardrails.
func (s *Server) listGuardrailsHandler(c *echo.Context) error {
	enabledOnly := c.QueryParam("enabled") == "true"
	rules, err := s.deps.Provider.ForTenant(tenantID(c)).ListGuardrailRules(c.Request().Context(), enabledOnly)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

// createGuardrailHandler handles POST /api/guardrails.
func (s *Server) createGuardrailHandler(c *echo.Context) error {
	var rule models.GuardrailRule
	if err := c.Bind(&rule); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateGuardrailRule(&rule); err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	rule.ID = uuid.NewString()
	rule.TenantID = tenantID(c)
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.deps.Provider.ForTenant(rule.TenantID).CreateGuardrailRule(c.Request().Context(), &rule); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// getGuardrailHandler handles GET /api/guardrails/:id.
func (s *Server) getGuardrailHandler(c *echo.Context) error {
	rule, err := s.deps.Provider.ForTenant(tenantID(c)).GetGuardrailRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// updateGuardrailHandler handles PUT /api/guardrails/:id.
func (s *Server) updateGuardrailHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	existing, err := st.GetGuardrailRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	var rule models.GuardrailRule
	if err := c.Bind(&rule); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateGuardrailRule(&rule); err != nil {
		return respondError(c, err)
	}

	rule.ID = existing.ID
	rule.TenantID = existing.TenantID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := st.UpdateGuardrailRule(c.Request().Context(), &rule); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// deleteGuardrailHandler handles DELETE /api/guardrails/:id.
func (s *Server) deleteGuardrailHandler(c *echo.Context) error {
	if err := s.deps.Provider.ForTenant(tenantID(c)).DeleteGuardrailRule(c.Request().Context(), c.Param("id")); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// guardrailStatusHandler handles GET /api/guardrails/:id/status: the rule,
// its evaluation state, and recent deliveries it caused.
func (s *Server) guardrailStatusHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	ctx := c.Request().Context()

	rule, err := st.GetGuardrailRule(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	state, err := st.GetGuardrailState(ctx, rule.ID)
	if err != nil && !models.IsKind(err, models.KindNotFound) {
		return respondError(c, err)
	}

	recent := make([]*models.NotificationLogEntry, 0)
	if entries, err := st.ListNotificationLog(ctx, maxPageSize); err == nil {
		for _, e := range entries {
			if e.RuleID == rule.ID {
				recent = append(recent, e)
			}
			if len(recent) >= defaultPageSize {
				break
			}
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"rule":           rule,
		"state":          state,
		"recentTriggers": recent,
	})
}

func validateGuardrailRule(r *models.GuardrailRule) error {
	var details []string
	if r.Name == "" {
		details = append(details, "name is required")
	}
	if r.ConditionType == "" {
		details = append(details, "conditionType is required")
	}
	if !r.ActionType.Valid() {
		details = append(details, "unknown actionType: "+string(r.ActionType))
	}
	if len(details) > 0 {
		return models.ValidationError("invalid guardrail rule", details...)
	}
	return nil
}
