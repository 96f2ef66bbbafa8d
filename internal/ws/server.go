// Package ws handles the WebSocket side of the server: upgrading HTTP
// connections, running the per-connection authentication and event loops, and
// keeping connections alive with heartbeats.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/whisper/dm-server/internal/auth"
	"github.com/whisper/dm-server/internal/metrics"
	"github.com/whisper/dm-server/internal/presence"
	"github.com/whisper/dm-server/internal/protocol"
	"github.com/whisper/dm-server/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	MaxConnections int           // hard cap on total connections
	AuthTimeout    time.Duration // time allowed for the Authenticate frame
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	MaxFrameSize   int64         // largest accepted client frame payload
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		MaxConnections: 100000,
		AuthTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxFrameSize:   64 << 10,
	}
}

// Authenticator resolves a session token. *auth.Service satisfies it.
type Authenticator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Identity, error)
}

// Backend is the application layer a connection drives. *dm.Service
// satisfies it.
type Backend interface {
	Connect(ctx context.Context, id *auth.Identity) (*protocol.ReadyData, *presence.Channel, error)
	UserOffline(ctx context.Context, userID string, ch *presence.Channel)
	Typing(userID string, kind protocol.EventKind, chatID string) bool
}

// Server upgrades HTTP requests to WebSocket connections and runs one session
// per connection. It is an http.Handler for the upgrade endpoint.
type Server struct {
	config     ServerConfig
	heartbeat  HeartbeatConfig
	conns      *ConnectionManager
	auth       Authenticator
	backend    Backend
	limiter    *ratelimit.Limiter // per-address upgrade throttle, may be nil
	httpServer *http.Server
	sessions   sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
	startedAt  time.Time // server start time for uptime calculation
}

// NewServer creates a Server. limiter may be nil.
func NewServer(config ServerConfig, authn Authenticator, backend Backend, limiter *ratelimit.Limiter) *Server {
	return &Server{
		config:    config,
		heartbeat: DefaultHeartbeatConfig(),
		conns:     NewConnectionManager(),
		auth:      authn,
		backend:   backend,
		limiter:   limiter,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
}

// SetHeartbeat overrides the heartbeat configuration. It must be called
// before Start or StartHeartbeat.
func (s *Server) SetHeartbeat(config HeartbeatConfig) {
	s.heartbeat = config
}

// Start starts the heartbeat monitor and serves handler on ListenAddr. When
// handler is nil the server mounts itself on /ws next to /health. It blocks
// until Shutdown.
func (s *Server) Start(handler http.Handler) error {
	if handler == nil {
		mux := http.NewServeMux()
		mux.Handle("/ws", s)
		mux.HandleFunc("/health", s.HandleHealth)
		handler = mux
	}

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: handler,
	}

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, s.heartbeat)

	log.Printf("ws: server listening on %s (max_conns=%d)", s.config.ListenAddr, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket connection using the gobwas/ws
// zero-copy upgrader and hands it to a new session goroutine.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Enforce maximum connection limit.
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := ratelimit.ClientIP(r)
	if ok, _ := s.limiter.Allow(r.Context(), ip, ratelimit.RuleConnect); !ok {
		metrics.RateLimited.WithLabelValues(ratelimit.RuleConnect.Name).Inc()
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed addr=%s: %v", ip, err)
		return
	}

	c := newConnection(uuid.New().String(), conn, s.config.WriteTimeout)
	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()
	log.Printf("ws: new connection conn=%s addr=%s (total=%d)", c.ID, ip, s.conns.Count())

	s.sessions.Add(1)
	go func() {
		defer s.sessions.Done()
		newSession(s, c).run()
	}()
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime, for load balancer health checks.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// RemoveConnection removes a connection from the connection manager and
// closes the underlying network connection, which ends its session loops.
// It is safe to call more than once; only the first call has an effect.
func (s *Server) RemoveConnection(c *Connection) {
	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	log.Printf("ws: connection closed conn=%s user=%s (total=%d)", c.ID, c.UserID(), s.conns.Count())
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener and the heartbeat, closes all active connections, and waits for
// their sessions to finish disconnect cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	s.stopOnce.Do(func() { close(s.done) })

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	finished := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		return fmt.Errorf("ws: shutdown: %w", ctx.Err())
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}
