// Package hub provides session management for event-streamed clients.
package hub

import (
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Errors returned by hub operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrHubClosed       = errors.New("hub is shut down")
	ErrBufferFull      = errors.New("session send buffer full")
)

const sendBufferSize = 64

// Session represents a single registered client stream. The events channel is
// consumed by exactly one transport writer; its close signals teardown.
type Session struct {
	ID     string
	events chan []byte
}

// Events returns the outbound event channel for this session.
func (s *Session) Events() <-chan []byte {
	return s.events
}

// Hub is the registry of live sessions, keyed by session identifier. It is the
// single source of truth for session liveness.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]*Session)}
}

// Open mints a fresh session identifier, registers a new session and returns
// it. It fails with ErrHubClosed once shutdown has begun.
func (h *Hub) Open() (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	sess := &Session{
		ID:     uuid.New().String(),
		events: make(chan []byte, sendBufferSize),
	}
	h.sessions[sess.ID] = sess
	log.Printf("Session registered: %s", sess.ID)
	return sess, nil
}

// Get looks up a session by identifier.
func (h *Hub) Get(sessionID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[sessionID]
	return sess, ok
}

// Send routes data onto the session's event stream. A missing session fails
// with ErrSessionNotFound. A full buffer means the consumer has stalled; the
// session is torn down and ErrBufferFull returned.
func (h *Hub) Send(sessionID string, data []byte) error {
	h.mu.RLock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return ErrSessionNotFound
	}

	select {
	case sess.events <- data:
		h.mu.RUnlock()
		return nil
	default:
		h.mu.RUnlock()
		log.Printf("Session %s buffer full, closing", sessionID)
		h.Close(sessionID)
		return ErrBufferFull
	}
}

// SendJSON marshals v and sends it onto the session's event stream.
func (h *Hub) SendJSON(sessionID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.Send(sessionID, data)
}

// Close removes the session from the registry and closes its event channel.
// Idempotent; safe to call concurrently with Send for the same identifier.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(h.sessions, sessionID)
	close(sess.events)
	log.Printf("Session unregistered: %s", sessionID)
}

// Shutdown stops new opens and closes every registered session, best-effort.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, sess := range h.sessions {
		delete(h.sessions, id)
		close(sess.events)
	}
	log.Printf("All sessions closed")
}

// SessionCount returns the number of live sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
