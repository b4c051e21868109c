package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /ws to a WebSocket and hands it to the Feed.
// Origins outside the configured allowlist are rejected by the upgrade;
// an empty allowlist means same-origin only.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.feed == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event feed is not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedWSOrigins,
	})
	if err != nil {
		return err
	}

	// Blocks until the client disconnects.
	s.feed.HandleConnection(c.Request().Context(), conn)
	return nil
}
