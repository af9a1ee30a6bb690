package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listAgentsHandler handles GET /api/agents.
func (s *Server) listAgentsHandler(c *echo.Context) error {
	agents, err := s.deps.Provider.ForTenant(tenantID(c)).ListAgents(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"agents": agents})
}

// getAgentHandler handles GET /api/agents/:id.
func (s *Server) getAgentHandler(c *echo.Context) error {
	agent, err := s.deps.Provider.ForTenant(tenantID(c)).GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// pauseAgentHandler handles POST /api/agents/:id/pause. Manual counterpart of
// the pause_agent guardrail action.
func (s *Server) pauseAgentHandler(c *echo.Context) error {
	return s.setAgentPaused(c, true)
}

// resumeAgentHandler handles POST /api/agents/:id/resume.
func (s *Server) resumeAgentHandler(c *echo.Context) error {
	return s.setAgentPaused(c, false)
}

func (s *Server) setAgentPaused(c *echo.Context, paused bool) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	if err := st.SetAgentPaused(c.Request().Context(), c.Param("id"), paused); err != nil {
		return respondError(c, err)
	}
	agent, err := st.GetAgent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}
