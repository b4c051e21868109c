package api

import (
	"github.com/viacanvas/intelligence/pkg/database"
	"github.com/viacanvas/intelligence/pkg/queue"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string                 `json:"status"`
	Version    string                 `json:"version"`
	Database   *database.HealthStatus `json:"database,omitempty"`
	WorkerPool *queue.PoolHealth      `json:"worker_pool,omitempty"`
	Sessions   int                    `json:"sessions"`
}

// CancelResponse is returned by POST /api/v1/operations/:id/cancel.
type CancelResponse struct {
	OperationID string `json:"operation_id"`
	Message     string `json:"message"`
}
