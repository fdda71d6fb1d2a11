package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/test", func(c *echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

func TestErrorEnvelope(t *testing.T) {
	newApp := func(handler echo.HandlerFunc) *echo.Echo {
		e := echo.New()
		e.Use(errorEnvelope())
		e.GET("/test", handler)
		return e
	}

	t.Run("passes successful responses through untouched", func(t *testing.T) {
		e := newApp(func(c *echo.Context) error {
			return c.String(http.StatusOK, "ok")
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	t.Run("renders HTTP errors with their code", func(t *testing.T) {
		e := newApp(func(c *echo.Context) error {
			return echo.NewHTTPError(http.StatusNotFound, "no such thing")
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error": "no such thing"}`, rec.Body.String())
	})

	t.Run("renders wrapped HTTP errors", func(t *testing.T) {
		e := newApp(func(c *echo.Context) error {
			return mapStoreError(errors.New("boom"))
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error": "internal server error"}`, rec.Body.String())
	})

	t.Run("masks non-HTTP errors as 500", func(t *testing.T) {
		e := newApp(func(c *echo.Context) error {
			return errors.New("database exploded: credentials=hunter2")
		})

		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error": "internal server error"}`, rec.Body.String())
	})
}
