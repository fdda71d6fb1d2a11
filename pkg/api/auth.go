package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"
)

// extractCaller resolves the acting user for a request.
// Priority: X-Forwarded-User (oauth2-proxy) > the body-supplied user id.
// Behind a proxy the header wins, so a request body cannot impersonate
// another user.
func extractCaller(c *echo.Context, bodyUserID string) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	return bodyUserID
}

// isManager reports whether the proxy granted the caller the manager
// capability (cancel and reorder prompts owned by other users).
func isManager(c *echo.Context) bool {
	return strings.EqualFold(c.Request().Header.Get("X-Forwarded-Role"), "manager")
}
