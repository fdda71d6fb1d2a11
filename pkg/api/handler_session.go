package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/conflict"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// createSessionHandler handles POST /api/v1/multiplayer.
// Creation is idempotent on externalSessionID: a repeat create returns
// the existing session.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	sess, err := s.sessions.Create(session.CreateInput{
		ExternalSessionID: req.ExternalSessionID,
		SandboxID:         req.SandboxID,
		ConflictStrategy:  conflict.Strategy(req.ConflictStrategy),
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusCreated, sess)
}

// listSessionsHandler handles GET /api/v1/multiplayer.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions := s.sessions.List()
	return c.JSON(http.StatusOK, &SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
	})
}

// getSessionHandler handles GET /api/v1/multiplayer/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, sess)
}

// deleteSessionHandler handles DELETE /api/v1/multiplayer/:id.
// Deletion fans out through the bus: the gateway closes the session's
// connections and the dispatcher cancels an in-flight invocation.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	if err := s.sessions.Delete(sessionID); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusNoContent)
}

// joinSessionHandler handles POST /api/v1/multiplayer/:id/join.
func (s *Server) joinSessionHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Bind and resolve the joining user
	var req JoinSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	// 3. Join (idempotent for an existing member)
	user, err := s.sessions.Join(sessionID, session.JoinInput{
		UserID: userID,
		Name:   req.Name,
		Email:  req.Email,
		Avatar: req.Avatar,
		Color:  req.Color,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, user)
}

// leaveSessionHandler handles POST /api/v1/multiplayer/:id/leave.
// Leaving disconnects the user's clients and releases a held edit lock.
func (s *Server) leaveSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	var req LeaveSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := s.sessions.Leave(sessionID, userID); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
