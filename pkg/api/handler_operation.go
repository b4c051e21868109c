package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// listOperationsHandler handles GET /api/v1/operations. Returns the
// incomplete (resumable) operations, optionally filtered by canvas_id and
// session_id.
func (s *Server) listOperationsHandler(c *echo.Context) error {
	if s.operations == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operation store is not available")
	}

	ops, err := s.operations.ListIncomplete(c.Request().Context(),
		c.QueryParam("canvas_id"), c.QueryParam("session_id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, ops)
}

// cancelOperationHandler handles POST /api/v1/operations/:id/cancel.
// Cancellation is cooperative: a live operation stops at its next progress
// checkpoint, a checkpointed one is marked cancelled directly.
func (s *Server) cancelOperationHandler(c *echo.Context) error {
	if s.operations == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "operation store is not available")
	}
	operationID := c.Param("id")
	if operationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "operation id is required")
	}

	if err := s.operations.Cancel(c.Request().Context(), operationID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &CancelResponse{
		OperationID: operationID,
		Message:     "operation cancellation requested",
	})
}
