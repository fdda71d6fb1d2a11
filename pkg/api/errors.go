package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/session"
)

// mapStoreError maps session-store errors to HTTP error responses.
// Unknown entities are 404, authorization failures 403, capacity limits
// 429, operations against the executing prompt 409, malformed requests
// 400. Anything unrecognized is logged and becomes a 500.
func mapStoreError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrPromptNotFound),
		errors.Is(err, session.ErrUserNotFound),
		errors.Is(err, session.ErrClientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, session.ErrUserNotInSession),
		errors.Is(err, session.ErrNotLockHolder),
		errors.Is(err, session.ErrNotPromptOwner):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())

	case errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrClientLimitReached),
		errors.Is(err, session.ErrQueueFull):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())

	case errors.Is(err, session.ErrPromptExecuting):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, session.ErrCrossPriorityReorder),
		errors.Is(err, session.ErrInvalidStrategy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// Unexpected error
	slog.Error("Unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
