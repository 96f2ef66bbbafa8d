package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single WebSocket client connection with its
// associated metadata and a write mutex for serializing outbound frames.
type Connection struct {
	ID         string    // connection ID (UUID)
	Conn       net.Conn  // underlying TCP connection
	RemoteAddr string    // client address used for logging
	CreatedAt  time.Time // when the connection was established

	userID       atomic.Value // string, set once authenticated
	lastActive   atomic.Int64 // unix nanos of the last frame read
	writeTimeout time.Duration
	writeMu      sync.Mutex // serializes writes to this connection
}

func newConnection(id string, conn net.Conn, writeTimeout time.Duration) *Connection {
	now := time.Now()
	c := &Connection{
		ID:           id,
		Conn:         conn,
		RemoteAddr:   conn.RemoteAddr().String(),
		CreatedAt:    now,
		writeTimeout: writeTimeout,
	}
	c.lastActive.Store(now.UnixNano())
	return c
}

// UserID returns the authenticated user, or "" during the auth phase.
func (c *Connection) UserID() string {
	id, _ := c.userID.Load().(string)
	return id
}

func (c *Connection) setUserID(id string) {
	c.userID.Store(id)
}

// Touch records read activity for the heartbeat.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last frame read from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// WriteMessage sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WriteClose sends a close frame with the given status code.
func (c *Connection) WriteClose(code ws.StatusCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return ws.WriteFrame(c.Conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}

// Write implements io.Writer over the write mutex so that control frame
// replies produced while reading never interleave with application frames.
func (c *Connection) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.setWriteDeadline()
	return c.Conn.Write(p)
}

func (c *Connection) setWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ConnectionManager is a thread-safe registry of open connections keyed by
// connection ID.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
	}
}

// Add registers a new connection.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.mu.Unlock()
}

// Remove removes a connection by ID and closes the underlying network
// connection. Returns true if the connection was found and removed, false if
// it was already gone.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
	}
	cm.mu.Unlock()

	if ok {
		conn.Close()
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// Count returns the current number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
