package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// State is a SocketSession's position in the connection lifecycle.
type State string

const (
	StateConnecting     State = "CONNECTING"
	StateConnected      State = "CONNECTED"
	StateAuthenticating State = "AUTHENTICATING"
	StateAuthenticated  State = "AUTHENTICATED"
	StateDisconnecting  State = "DISCONNECTING"
	StateDisconnected   State = "DISCONNECTED"
	StateError          State = "ERROR"
)

// ClientMetadata is the connection's self-reported transport context.
type ClientMetadata struct {
	UserAgent    string
	RemoteAddr   string
	DeviceID     string
}

// Connection is the relay's view of one live socket. Only the owning
// SocketSession goroutine ever writes to the socket; every other field
// mutation happens under the ConnectionTable's lock or via atomics.
type Connection struct {
	ID            string
	AgentID       string
	UserID        string
	PublicKey     string
	ConnectedAt   time.Time
	Metadata      ClientMetadata

	mu             sync.RWMutex
	status         State
	lastActivityAt time.Time

	socket *websocket.Conn
	send   chan []byte
}

func newConnection(id string, socket *websocket.Conn, metadata ClientMetadata) *Connection {
	now := time.Now()
	return &Connection{
		ID:             id,
		ConnectedAt:    now,
		Metadata:       metadata,
		status:         StateConnecting,
		lastActivityAt: now,
		socket:         socket,
		send:           make(chan []byte, 256),
	}
}

// Status returns the connection's current lifecycle state.
func (c *Connection) Status() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) setStatus(s State) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// Touch records inbound activity, resetting the idle-eviction clock.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the last time a frame was received on this connection.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivityAt
}

// enqueue attempts a non-blocking send to the connection's write pump. It
// reports false when the client is too slow to keep up and the buffer is
// full — callers treat this as a delivery failure, never blocking on a
// stuck peer.
func (c *Connection) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// ConnectionTable is the relay's in-memory directory of live connections,
// keyed both by connection-id and by agent-id. Every cross-connection
// interaction in the relay goes through this table rather than holding a
// direct reference to another session.
type ConnectionTable struct {
	mu          sync.RWMutex
	byID        map[string]*Connection
	byAgentID   map[string]string // agent-id -> connection-id, AUTHENTICATED only
}

// NewConnectionTable builds an empty table.
func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{
		byID:      make(map[string]*Connection),
		byAgentID: make(map[string]string),
	}
}

// Insert adds a connection in a pre-authentication state. It is visible by
// connection-id only until Authenticate promotes it.
func (t *ConnectionTable) Insert(conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[conn.ID] = conn
}

// Authenticate promotes a connection to AUTHENTICATED under agentID,
// superseding and returning any prior connection that held that agent-id.
func (t *ConnectionTable) Authenticate(conn *Connection, agentID, userID string) (superseded *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if priorID, ok := t.byAgentID[agentID]; ok && priorID != conn.ID {
		superseded = t.byID[priorID]
	}

	conn.AgentID = agentID
	conn.UserID = userID
	conn.setStatus(StateAuthenticated)
	t.byAgentID[agentID] = conn.ID
	return superseded
}

// Get looks up a connection by connection-id.
func (t *ConnectionTable) Get(connID string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.byID[connID]
	return conn, ok
}

// GetByAgentID looks up the locally AUTHENTICATED connection for an agent.
func (t *ConnectionTable) GetByAgentID(agentID string) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	connID, ok := t.byAgentID[agentID]
	if !ok {
		return nil, false
	}
	conn, ok := t.byID[connID]
	return conn, ok
}

// Remove deletes a connection from both maps. Idempotent: removing a
// connection-id that is already gone is a no-op.
func (t *ConnectionTable) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.byID[connID]
	if !ok {
		return
	}
	delete(t.byID, connID)
	if conn.AgentID != "" && t.byAgentID[conn.AgentID] == connID {
		delete(t.byAgentID, conn.AgentID)
	}
}

// Snapshot returns a point-in-time copy of every tracked connection,
// taken under the read lock so callers can iterate and write to sockets
// without holding the table locked.
func (t *ConnectionTable) Snapshot() []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		conns = append(conns, c)
	}
	return conns
}

// Len reports the total number of tracked connections (any state).
func (t *ConnectionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// IsConnected reports whether agentID currently has a local AUTHENTICATED
// connection.
func (t *ConnectionTable) IsConnected(agentID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byAgentID[agentID]
	return ok
}
