package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/embedding"
	"github.com/agentlensai/agentlens/pkg/models"
)

// listLessonsHandler handles GET /api/lessons.
func (s *Server) listLessonsHandler(c *echo.Context) error {
	includeArchived := c.QueryParam("includeArchived") == "true"
	lessons, err := s.deps.Provider.ForTenant(tenantID(c)).ListLessons(
		c.Request().Context(), c.QueryParam("agentId"), c.QueryParam("category"), includeArchived)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"lessons": lessons})
}

// createLessonHandler handles POST /api/lessons. New lessons are queued for
// embedding so they become recallable.
func (s *Server) createLessonHandler(c *echo.Context) error {
	var lesson models.Lesson
	if err := c.Bind(&lesson); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateLesson(&lesson); err != nil {
		return respondError(c, err)
	}

	now := time.Now().UTC()
	lesson.ID = uuid.NewString()
	lesson.TenantID = tenantID(c)
	if lesson.Importance == "" {
		lesson.Importance = models.ImportanceNormal
	}
	lesson.AccessCount = 0
	lesson.Archived = false
	lesson.CreatedAt = now
	lesson.UpdatedAt = now

	if err := s.deps.Provider.ForTenant(lesson.TenantID).CreateLesson(c.Request().Context(), &lesson); err != nil {
		return respondError(c, err)
	}
	s.enqueueLessonEmbedding(&lesson)
	return c.JSON(http.StatusCreated, lesson)
}

// getLessonHandler handles GET /api/lessons/:id.
func (s *Server) getLessonHandler(c *echo.Context) error {
	lesson, err := s.deps.Provider.ForTenant(tenantID(c)).GetLesson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, lesson)
}

// updateLessonHandler handles PUT /api/lessons/:id. Edited content is
// re-embedded; unchanged content dedupes on its hash in the worker.
func (s *Server) updateLessonHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	existing, err := st.GetLesson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	var lesson models.Lesson
	if err := c.Bind(&lesson); err != nil {
		return respondError(c, models.ValidationError("invalid JSON body"))
	}
	if err := validateLesson(&lesson); err != nil {
		return respondError(c, err)
	}

	lesson.ID = existing.ID
	lesson.TenantID = existing.TenantID
	lesson.AccessCount = existing.AccessCount
	lesson.CreatedAt = existing.CreatedAt
	lesson.UpdatedAt = time.Now().UTC()
	if lesson.Importance == "" {
		lesson.Importance = existing.Importance
	}

	if err := st.UpdateLesson(c.Request().Context(), &lesson); err != nil {
		return respondError(c, err)
	}
	s.enqueueLessonEmbedding(&lesson)
	return c.JSON(http.StatusOK, lesson)
}

// archiveLessonHandler handles DELETE /api/lessons/:id. Lessons are archived
// rather than deleted so recall history stays explainable.
func (s *Server) archiveLessonHandler(c *echo.Context) error {
	st := s.deps.Provider.ForTenant(tenantID(c))
	lesson, err := st.GetLesson(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	lesson.Archived = true
	lesson.UpdatedAt = time.Now().UTC()
	if err := st.UpdateLesson(c.Request().Context(), lesson); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) enqueueLessonEmbedding(lesson *models.Lesson) {
	if s.deps.Embeddings == nil {
		return
	}
	s.deps.Embeddings.Enqueue(embedding.Job{
		TenantID:    lesson.TenantID,
		SourceType:  models.SourceLesson,
		SourceID:    lesson.ID,
		TextContent: lesson.Title + "\n" + lesson.Content,
	})
}

func validateLesson(l *models.Lesson) error {
	var details []string
	if l.Title == "" {
		details = append(details, "title is required")
	}
	if l.Content == "" {
		details = append(details, "content is required")
	}
	if l.Category == "" {
		details = append(details, "category is required")
	}
	if l.Importance != "" && !l.Importance.Valid() {
		details = append(details, "unknown importance: "+string(l.Importance))
	}
	if len(details) > 0 {
		return models.ValidationError("invalid lesson", details...)
	}
	return nil
}
