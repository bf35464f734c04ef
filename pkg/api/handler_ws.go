package api

import (
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /ws/experiments/:id. Upgrades to WebSocket and
// streams the experiment's events at the requested verbosity; the client
// can change verbosity later with a set_verbosity control message.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "WebSocket not available")
	}
	experimentID := c.Param("id")
	if experimentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "experiment id is required")
	}

	verbosity := s.cfg.VerbosityDefault
	if v := c.QueryParam("verbosity"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "verbosity must be an integer 0..3")
		}
		verbosity = n
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The dashboard origin is enforced by the CORS layer; the
		// socket itself accepts any origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	// Blocks until the WebSocket closes. Out-of-range verbosity is
	// rejected over the socket by the subscription itself.
	s.connManager.HandleConnection(c.Request().Context(), conn, experimentID, verbosity)
	return nil
}
