package handlers

import (
	"sync"

	"go.uber.org/zap"
)

// wsWriter is the write half of a websocket connection. Satisfied by
// *websocket.Conn.
type wsWriter interface {
	WriteJSON(v interface{}) error
}

// conn pairs a connection with a write mutex. Websocket connections do
// not support concurrent writers, so every write goes through writeJSON.
type conn struct {
	mu sync.Mutex
	w  wsWriter
}

func (c *conn) writeJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.WriteJSON(v)
}

// ConnManager tracks live websocket connections per user and fans
// server events out to them. A user may hold several connections (tabs,
// devices); presence flips only on the first connect and the last
// disconnect.
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]map[string]*conn // userID -> connID -> conn
	log   *zap.SugaredLogger
}

func NewConnManager(log *zap.SugaredLogger) *ConnManager {
	return &ConnManager{
		conns: make(map[string]map[string]*conn),
		log:   log,
	}
}

// Register adds a connection and reports whether the user just came
// online.
func (m *ConnManager) Register(userID, connID string, w wsWriter) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	first := len(m.conns[userID]) == 0
	if m.conns[userID] == nil {
		m.conns[userID] = make(map[string]*conn)
	}
	m.conns[userID][connID] = &conn{w: w}
	return first
}

// Unregister removes a connection and reports whether it was the user's
// last one.
func (m *ConnManager) Unregister(userID, connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns, ok := m.conns[userID]
	if !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(m.conns, userID)
		return true
	}
	return false
}

// IsUserOnline reports whether the user has any live connection.
func (m *ConnManager) IsUserOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns[userID]) > 0
}

// SendToUser writes a JSON payload to every connection of the user.
// Write failures are logged and left for the read loop to clean up.
func (m *ConnManager) SendToUser(userID string, payload interface{}) {
	m.mu.RLock()
	conns := make(map[string]*conn, len(m.conns[userID]))
	for id, c := range m.conns[userID] {
		conns[id] = c
	}
	m.mu.RUnlock()

	for connID, c := range conns {
		if err := c.writeJSON(payload); err != nil {
			m.log.Warnw("websocket write", "user_id", userID, "conn_id", connID, "error", err)
		}
	}
}

// SendToUsers writes a JSON payload to every connection of each user.
func (m *ConnManager) SendToUsers(userIDs []string, payload interface{}) {
	for _, id := range userIDs {
		m.SendToUser(id, payload)
	}
}
