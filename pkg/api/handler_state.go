package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/conflict"
	"github.com/codeready-toolchain/huddle/pkg/models"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// acquireLockHandler handles POST /api/v1/multiplayer/:id/lock.
// A held lock is not an error: the response reports "alreadyHeld" and
// names the holder so the client can surface it.
func (s *Server) acquireLockHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Resolve the caller
	var req LockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	// 3. Attempt the acquire
	result, state, err := s.sessions.AcquireLock(sessionID, userID)
	if err != nil {
		return mapStoreError(err)
	}
	if result == session.LockNotMember {
		return echo.NewHTTPError(http.StatusForbidden, session.ErrUserNotInSession.Error())
	}

	return c.JSON(http.StatusOK, &LockResponse{
		Result:   string(result),
		EditLock: state.EditLock,
		Version:  state.Version,
	})
}

// releaseLockHandler handles DELETE /api/v1/multiplayer/:id/lock.
// Only the holder may release.
func (s *Server) releaseLockHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req LockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := s.sessions.ReleaseLock(sessionID, userID); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// updateCursorHandler handles PUT /api/v1/multiplayer/:id/cursor.
// Presence only: no version change, no conflict checking.
func (s *Server) updateCursorHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req CursorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := s.sessions.UpdateCursor(sessionID, userID, req.Cursor); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// updateStateHandler handles POST and PUT /api/v1/multiplayer/:id/state.
// The update carries a base version; the session's conflict strategy
// decides what a stale base means. A refused update is a 409 whose
// message names the current version so the client can refresh and retry.
func (s *Server) updateStateHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Bind and translate the partial update
	var req UpdateStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Updates) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "updates are required")
	}
	delta, err := conflict.DeltaFromMap(req.Updates)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = extractCaller(c, req.UserID)
	}

	// 3. Resolve through the store
	outcome, err := s.sessions.UpdateState(sessionID, conflict.Update{
		BaseVersion: req.BaseVersion,
		Delta:       delta,
		ClientID:    clientID,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		return mapStoreError(err)
	}
	if !outcome.Applied {
		return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf(
			"update rejected (%s): base version %d, current version %d",
			outcome.Reason, outcome.BaseVersion, outcome.CurrentVersion))
	}

	return c.JSON(http.StatusOK, &UpdateStateResponse{
		State: models.SessionState{
			EditLock:      outcome.Result.EditLock,
			GitSyncStatus: outcome.Result.GitSyncStatus,
			AgentStatus:   outcome.Result.AgentStatus,
			Extra:         outcome.Result.Extra,
			Version:       outcome.Result.Version,
		},
		MergedFields: outcome.MergedFields,
		Detected:     outcome.Detected,
	})
}
