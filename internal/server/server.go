// Package server provides the HTTP transport surface of the MCP bridge.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/robfromnewground/modelcontextprotocol/internal/dispatch"
	"github.com/robfromnewground/modelcontextprotocol/internal/hub"
)

// Server is the HTTP server exposing the health, SSE and message endpoints.
type Server struct {
	echo       *echo.Echo
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
}

// NewServer creates a new HTTP server with routes registered.
func NewServer(h *hub.Hub, d *dispatch.Dispatcher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		hub:        h,
		dispatcher: d,
	}

	// Register routes
	e.GET("/health", s.handleHealth)
	e.GET("/sse", s.handleSSE)
	e.POST("/messages", s.handleMessages)

	return s
}

// RegisterWebSocket mounts an optional WebSocket transport handler.
func (s *Server) RegisterWebSocket(h echo.HandlerFunc) {
	s.echo.GET("/ws", h)
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   dispatch.ServerName,
		"version":   dispatch.ServerVersion,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessions":  s.hub.SessionCount(),
	})
}

// handleSSE opens a persistent one-way event stream. The first event tells the
// client its session id and where to post follow-up messages; subsequent
// events carry JSON-RPC responses for that session.
func (s *Server) handleSSE(c echo.Context) error {
	sess, err := s.hub.Open()
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "server is shutting down"})
	}
	defer s.hub.Close(sess.ID)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	fmt.Fprintf(resp, "event: endpoint\ndata: /messages?sessionId=%s\n\n", sess.ID)
	resp.Flush()

	for {
		select {
		case data, ok := <-sess.Events():
			if !ok {
				// Session closed by the hub (explicit close or shutdown sweep).
				return nil
			}
			if _, err := fmt.Fprintf(resp, "event: message\ndata: %s\n\n", data); err != nil {
				log.Printf("Failed to write to session %s: %v", sess.ID, err)
				return nil
			}
			resp.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// handleMessages accepts a JSON-RPC request for an open session. The POST only
// acknowledges receipt; the RPC result is delivered on the session's stream.
func (s *Server) handleMessages(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "sessionId query parameter is required"})
	}

	if _, ok := s.hub.Get(sessionID); !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no session found for sessionId " + sessionID})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	// Dispatch async so a slow upstream call never blocks the acknowledgement
	// or other sessions' posts.
	go s.dispatcher.Dispatch(context.Background(), sessionID, body)

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}
