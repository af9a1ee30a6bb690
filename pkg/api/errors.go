package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/agentlensai/agentlens/pkg/models"
)

// errorBody is the JSON error envelope. Retry hints travel in headers, never
// in the body.
type errorBody struct {
	Error   string   `json:"error"`
	Status  int      `json:"status"`
	Details []string `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindAuth:
		return http.StatusUnauthorized
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindRateLimited, models.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case models.KindBackpressure:
		return http.StatusServiceUnavailable
	case models.KindDependency:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError writes the error envelope for err and returns nil, so echo's
// default error handler never rewrites the body.
func respondError(c *echo.Context, err error) error {
	var e *models.Error
	if !errors.As(err, &e) {
		slog.Error("Unhandled error", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError,
			errorBody{Error: "internal server error", Status: http.StatusInternalServerError})
	}

	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request().URL.Path, "kind", string(e.Kind), "error", err)
	}
	if e.RetryAfterSeconds > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSeconds))
	}
	return c.JSON(status, errorBody{Error: e.Message, Status: status, Details: e.Details})
}
