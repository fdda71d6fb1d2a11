package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/huddle/pkg/version"
)

const (
	healthStatusHealthy  = "healthy"
	healthStatusDegraded = "degraded"
)

// healthHandler handles GET /health.
// Always 200; a degraded dispatcher is reported in the body so probes
// keep the process alive while operators investigate.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := &HealthResponse{
		Status:      healthStatusHealthy,
		Version:     version.GitCommit,
		Sessions:    s.sessions.Count(),
		Connections: s.gateway.ActiveConnections(),
	}

	if s.dispatcher != nil {
		health := s.dispatcher.Health()
		resp.Dispatcher = &health
		if !health.IsHealthy {
			resp.Status = healthStatusDegraded
		}
	}

	mappings := make(map[string]int)
	if s.github != nil {
		mappings["github"] = s.github.Mappings().Count()
	}
	if s.slack != nil {
		mappings["slack"] = s.slack.Threads().Count()
	}
	if len(mappings) > 0 {
		resp.Mappings = mappings
	}

	return c.JSON(http.StatusOK, resp)
}
