// Package ws provides a WebSocket transport carrying the same RPC as the SSE surface.
package ws

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/robfromnewground/modelcontextprotocol/internal/config"
	"github.com/robfromnewground/modelcontextprotocol/internal/dispatch"
	"github.com/robfromnewground/modelcontextprotocol/internal/hub"
	"github.com/robfromnewground/modelcontextprotocol/internal/protocol"
)

// Server handles WebSocket connections.
type Server struct {
	cfg        *config.Config
	hub        *hub.Hub
	dispatcher *dispatch.Dispatcher
	upgrader   websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, d *dispatch.Dispatcher) *Server {
	return &Server{
		cfg:        cfg,
		hub:        h,
		dispatcher: d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the connection, opens a session and runs the
// read/write pumps until either side closes.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	sess, err := s.hub.Open()
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(s.cfg.WriteTimeout))
		conn.Close()
		return nil
	}

	// Tell the client its session id, mirroring the SSE endpoint event.
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(&protocol.EndpointEvent{
		SessionID: sess.ID,
		Endpoint:  "/messages?sessionId=" + sess.ID,
	}); err != nil {
		log.Printf("Failed to write endpoint event: %v", err)
		s.hub.Close(sess.ID)
		conn.Close()
		return nil
	}

	go s.writePump(conn, sess)
	go s.readPump(conn, sess)

	return nil
}

// readPump reads inbound JSON-RPC messages and dispatches them.
func (s *Server) readPump(conn *websocket.Conn, sess *hub.Session) {
	defer func() {
		s.hub.Close(sess.ID)
		conn.Close()
	}()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		go s.dispatcher.Dispatch(context.Background(), sess.ID, message)
	}
}

// writePump drains the session's event stream onto the socket.
func (s *Server) writePump(conn *websocket.Conn, sess *hub.Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-sess.Events():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the session
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
