package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// errorEnvelope renders handler errors as {"error": string} bodies with
// the error's status code. Anything that is not an *echo.HTTPError is a
// bug surfaced as a 500.
func errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var he *echo.HTTPError
			if !errors.As(err, &he) {
				slog.Error("Unhandled request error",
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"error", err)
				he = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}

			return c.JSON(he.Code, &ErrorResponse{Error: fmt.Sprintf("%v", he.Message)})
		}
	}
}
