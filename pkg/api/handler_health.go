package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/viacanvas/intelligence/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health. Only the process's own components are
// checked; external collaborators (canvas CRUD, model providers) are
// excluded so their outages do not get this service restarted.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:   healthStatusHealthy,
		Version:  version.GitCommit,
		Sessions: s.sessions.Count(),
	}

	if s.db != nil {
		dbHealth, err := s.db.Health(reqCtx)
		resp.Database = dbHealth
		if err != nil {
			resp.Status = healthStatusUnhealthy
		}
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		resp.WorkerPool = poolHealth
		if poolHealth != nil && !poolHealth.IsHealthy && resp.Status == healthStatusHealthy {
			resp.Status = healthStatusDegraded
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
