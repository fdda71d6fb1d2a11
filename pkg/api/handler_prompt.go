package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/models"
	"github.com/codeready-toolchain/huddle/pkg/session"
)

// enqueuePromptHandler handles POST /api/v1/multiplayer/:id/prompt.
func (s *Server) enqueuePromptHandler(c *echo.Context) error {
	// 1. Validate session ID
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	// 2. Bind and validate the prompt
	var req EnqueuePromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	priority := models.PromptPriority(req.Priority)
	if req.Priority != "" && !priority.IsValid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid priority %q", req.Priority))
	}

	// 3. Enqueue by priority class
	prompt, err := s.sessions.Enqueue(sessionID, session.EnqueueInput{
		UserID:   userID,
		Content:  req.Content,
		Priority: priority,
	})
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusCreated, prompt)
}

// getQueueHandler handles GET /api/v1/multiplayer/:id/prompt.
func (s *Server) getQueueHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, &QueueResponse{
		Executing: sess.Executing,
		Queue:     sess.PromptQueue,
	})
}

// reorderPromptHandler handles POST /api/v1/multiplayer/:id/prompt/:pid.
// Moves a queued prompt within its priority class. Only the owner or a
// manager may reorder.
func (s *Server) reorderPromptHandler(c *echo.Context) error {
	// 1. Validate IDs
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	promptID := c.Param("pid")
	if promptID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt id is required")
	}

	// 2. Bind and resolve the caller
	var req ReorderPromptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	userID := extractCaller(c, req.UserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	// 3. Reorder and return the fresh queue
	if err := s.sessions.Reorder(sessionID, promptID, userID, isManager(c), req.NewIndex); err != nil {
		return mapStoreError(err)
	}

	queue, err := s.sessions.GetQueue(sessionID)
	if err != nil {
		return mapStoreError(err)
	}
	return c.JSON(http.StatusOK, &QueueResponse{Queue: queue})
}

// cancelPromptHandler handles DELETE /api/v1/multiplayer/:id/prompt/:pid.
// The caller comes from the userID query parameter (DELETE carries no
// body); only the owner or a manager may cancel, and the executing
// prompt is out of reach.
func (s *Server) cancelPromptHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	promptID := c.Param("pid")
	if promptID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt id is required")
	}

	userID := extractCaller(c, c.QueryParam("userID"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}

	if err := s.sessions.Cancel(sessionID, promptID, userID, isManager(c)); err != nil {
		return mapStoreError(err)
	}

	return c.NoContent(http.StatusNoContent)
}
