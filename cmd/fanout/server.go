package main

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Server upgrades display connections and reports hub state
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   Logger
}

// NewServer creates a new Server instance. A "*" origin accepts any page.
func NewServer(hub *Hub, allowedOrigins []string, logger Logger) *Server {
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// HandleWebSocket handles WebSocket upgrade and registration
// GET /ws?station=line-3 (station=all watches every station)
func (s *Server) HandleWebSocket(c echo.Context) error {
	stationID := c.QueryParam("station")
	if stationID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "station query parameter required",
		})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response
		s.logger.Warn("websocket upgrade failed", "station_id", stationID, "error", err)
		return nil
	}

	client := NewClient(s.hub, conn, stationID)
	if !s.hub.Register(client) {
		conn.Close()
		return nil
	}

	s.logger.Info("new websocket connection", "station_id", stationID, "remote", c.RealIP())

	go client.writePump()
	go client.readPump()
	return nil
}

// HandleStats reports the number of watchers
// GET /api/v1/stats
func (s *Server) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{
		"connections": s.hub.GetConnectionCount(),
		"stations":    s.hub.GetStationCount(),
	})
}
