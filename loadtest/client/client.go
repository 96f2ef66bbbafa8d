// Package client provides a reusable WebSocket load test client for the DM
// server. It connects using gobwas/ws (the same library the server uses),
// performs the Authenticate -> Ready handshake, and tracks per-connection
// performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol event names (local equivalents of internal/protocol)
// ---------------------------------------------------------------------------

// Client -> Server events.
const (
	EventAuthenticate    = "Authenticate"
	EventChatStartTyping = "ChatStartTyping"
	EventChatEndTyping   = "ChatEndTyping"
)

// Server -> Client events.
const (
	EventReady          = "Ready"
	EventError          = "Error"
	EventChatNewMessage = "ChatNewMessage"
	EventUserUpdate     = "UserUpdate"
	EventChatUpdate     = "ChatUpdate"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency time.Duration // dial + upgrade
	ReadyLatency   time.Duration // Authenticate sent -> Ready received
	EventsReceived int
	EventsSent     int
	Errors         int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the DM server. It
// manages the WebSocket lifecycle and dispatches incoming events to
// registered handlers.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	ready     chan json.RawMessage
	authSent  time.Time
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new load test client connected to the given WebSocket URL.
// Handlers must be registered with On before Authenticate is called.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		ready:    make(chan json.RawMessage, 1),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)
	return c, nil
}

// Authenticate sends the Authenticate frame, starts the read loop and blocks
// until Ready arrives, the server reports an error, or ctx is done.
func (c *Client) Authenticate(ctx context.Context, token string) (json.RawMessage, error) {
	c.mu.Lock()
	c.authSent = time.Now()
	c.mu.Unlock()

	if err := c.Send(map[string]string{"event": EventAuthenticate, "token": token}); err != nil {
		return nil, err
	}
	go c.readLoop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("connection closed before Ready")
	case data, ok := <-c.ready:
		if !ok {
			return nil, fmt.Errorf("authentication rejected")
		}
		return data, nil
	}
}

// Send sends a JSON frame to the server. It is goroutine-safe.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EventsSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// Typing sends a typing indicator for chatID.
func (c *Client) Typing(chatID string, start bool) error {
	event := EventChatEndTyping
	if start {
		event = EventChatStartTyping
	}
	return c.Send(map[string]string{"event": event, "data": chatID})
}

// On registers a handler for a server event. The handler receives the
// event's data payload. Handlers run on the read loop goroutine; only one
// handler per event is supported.
func (c *Client) On(event string, handler func(json.RawMessage)) {
	c.handlers[event] = handler
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop reads frames until the connection closes, completing the
// handshake on Ready and dispatching everything else to handlers.
func (c *Client) readLoop() {
	authenticated := false
	for {
		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
			default:
				c.mu.Lock()
				c.metrics.Errors++
				c.mu.Unlock()
			}
			if !authenticated {
				close(c.ready)
			}
			return
		}

		var envelope struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.mu.Lock()
		c.metrics.EventsReceived++
		if envelope.Event == EventReady && !authenticated {
			c.metrics.ReadyLatency = time.Since(c.authSent)
		}
		c.mu.Unlock()

		if !authenticated {
			switch envelope.Event {
			case EventReady:
				authenticated = true
				c.ready <- envelope.Data
			case EventError:
				close(c.ready)
				return
			}
			continue
		}

		if handler, ok := c.handlers[envelope.Event]; ok {
			handler(envelope.Data)
		}
	}
}
