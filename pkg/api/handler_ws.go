package api

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/models"
)

// wsHandler handles GET /api/v1/multiplayer/:id/ws.
// It upgrades the request and hands the connection to the gateway,
// which registers the client, sends the snapshot, and pumps events
// until the peer goes away.
func (s *Server) wsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	userID := c.QueryParam("userID")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user id is required")
	}
	clientType := models.ClientType(c.QueryParam("clientType"))

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Reverse proxy terminates TLS and rewrites Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			"session_id", sessionID,
			"user_id", userID,
			"error", err)
		return nil
	}

	// Blocks until the client disconnects or the session is deleted.
	s.gateway.HandleConnection(c.Request().Context(), conn, sessionID, userID, clientType)
	return nil
}
