package websocket

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/errors"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/pubsub"
	"github.com/streamspace/streamspace/api/internal/ratelimit"
)

// Config configures a Server.
type Config struct {
	Path              string
	MaxConnections    int
	CORSOrigin        string
	AuthDeadline      time.Duration
	HeartbeatPeriod   time.Duration
	ResponseTimeout   time.Duration
	PresenceCoalesce  time.Duration
}

// DefaultConfig returns the spec-mandated timing and path defaults.
func DefaultConfig() Config {
	return Config{
		Path:             "/socket.io",
		MaxConnections:   10000,
		AuthDeadline:     DefaultAuthDeadline,
		HeartbeatPeriod:  DefaultHeartbeat,
		ResponseTimeout:  DefaultResponseTimeout,
		PresenceCoalesce: time.Second,
	}
}

// Server is the socket endpoint: it accepts connections, enforces the
// connection-count ceiling, and binds every other component together.
type Server struct {
	cfg        Config
	table      *ConnectionTable
	router     *Router
	presence   *PresenceService
	verifier   *auth.TokenVerifier
	limiter    *ratelimit.Limiter
	stats      *statsRecorder
	instanceID string
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer wires a Server from its dependencies.
func NewServer(cfg Config, bus pubsub.Bus, verifier *auth.TokenVerifier, limiter *ratelimit.Limiter) *Server {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	instanceID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		table:      table,
		router:     newRouter(table, bus, stats, instanceID),
		presence:   NewPresenceService(table, bus, cfg.PresenceCoalesce),
		verifier:   verifier,
		limiter:    limiter,
		stats:      stats,
		instanceID: instanceID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.CORSOrigin == "" || cfg.CORSOrigin == "*" || r.Header.Get("Origin") == cfg.CORSOrigin
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Table exposes the connection table for the Reaper and AdminSurface.
func (s *Server) Table() *ConnectionTable { return s.table }

// Stats returns a point-in-time statistics snapshot.
func (s *Server) Stats() Stats { return s.stats.snapshot() }

// RegisterRoutes mounts the socket upgrade endpoint on a gin engine.
func (s *Server) RegisterRoutes(r gin.IRouter) {
	r.GET(s.cfg.Path, s.handleUpgrade)
}

func (s *Server) handleUpgrade(c *gin.Context) {
	decision, err := s.limiter.Consume(c.Request.Context(), ratelimit.ClassConnectionAttempts, c.ClientIP(), ratelimit.CostDefault)
	if err != nil {
		relayErr := errors.ServerError(err)
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		relayErr := errors.RateLimitExceeded(retryAfter)
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}

	if s.table.Len() >= s.cfg.MaxConnections {
		relayErr := errors.ConnectionLimitExceeded()
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}

	socket, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.WebSocket().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	metadata := ClientMetadata{
		UserAgent:  c.Request.UserAgent(),
		RemoteAddr: c.ClientIP(),
	}

	deps := SessionDeps{
		Table:           s.table,
		Router:          s.router,
		Presence:        s.presence,
		Verifier:        s.verifier,
		Limiter:         s.limiter,
		Stats:           s.stats,
		AuthDeadline:    s.cfg.AuthDeadline,
		HeartbeatPeriod: s.cfg.HeartbeatPeriod,
		ResponseTimeout: s.cfg.ResponseTimeout,
	}

	session := NewSocketSession(s.ctx, uuid.NewString(), socket, metadata, deps)
	go session.Run()
}

// Shutdown cancels every session's context and waits up to grace for
// transports to close cooperatively; any sockets still open once grace
// has passed are then closed forcibly by Shutdown itself.
func (s *Server) Shutdown(grace time.Duration) {
	s.cancel()
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if s.table.Len() == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	for _, conn := range s.table.Snapshot() {
		conn.mu.RLock()
		socket := conn.socket
		conn.mu.RUnlock()
		if socket != nil {
			_ = socket.Close()
		}
	}
}

// DisconnectAgent forcibly closes a named agent's local connection. It is
// idempotent: disconnecting an agent with no local connection reports false.
func (s *Server) DisconnectAgent(agentID string) bool {
	conn, ok := s.table.GetByAgentID(agentID)
	if !ok || conn.Status() != StateAuthenticated {
		return false
	}
	conn.setStatus(StateDisconnecting)
	_ = conn.socket.Close()
	return true
}
