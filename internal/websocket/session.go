package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/errors"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/ratelimit"
)

// Timing defaults per the connection lifecycle design.
const (
	DefaultAuthDeadline   = 30 * time.Second
	DefaultHeartbeat      = 30 * time.Second
	DefaultResponseTimeout = 10 * time.Second
	writeWait             = 10 * time.Second
	sendBufferSize        = 256
)

// SessionDeps are the components a SocketSession needs from the Server
// that owns it.
type SessionDeps struct {
	Table      *ConnectionTable
	Router     *Router
	Presence   *PresenceService
	Verifier   *auth.TokenVerifier
	Limiter    *ratelimit.Limiter
	Stats      *statsRecorder

	AuthDeadline    time.Duration
	HeartbeatPeriod time.Duration
	ResponseTimeout time.Duration
}

// SocketSession owns one Connection's socket for its entire lifetime. It
// is the only goroutine ever allowed to write to the connection's socket;
// every other component reaches the connection only through its buffered
// send channel via ConnectionTable lookups.
type SocketSession struct {
	conn *Connection
	deps SessionDeps
	ctx  context.Context
}

// NewSocketSession wraps an accepted socket as a CONNECTING session.
func NewSocketSession(ctx context.Context, id string, socket *websocket.Conn, metadata ClientMetadata, deps SessionDeps) *SocketSession {
	conn := newConnection(id, socket, metadata)
	deps.Table.Insert(conn)
	deps.Stats.connectionOpened()

	if deps.AuthDeadline == 0 {
		deps.AuthDeadline = DefaultAuthDeadline
	}
	if deps.HeartbeatPeriod == 0 {
		deps.HeartbeatPeriod = DefaultHeartbeat
	}
	if deps.ResponseTimeout == 0 {
		deps.ResponseTimeout = DefaultResponseTimeout
	}

	return &SocketSession{conn: conn, deps: deps, ctx: ctx}
}

// Run drives the session through its lifecycle until the socket closes,
// the server shuts down, or the session errors out. It starts the write
// pump and blocks on the read pump, mirroring the write-owns-the-socket
// discipline described in the concurrency model.
func (s *SocketSession) Run() {
	s.conn.setStatus(StateConnected)
	authDeadline := time.AfterFunc(s.deps.AuthDeadline, s.onAuthDeadline)
	defer authDeadline.Stop()

	done := make(chan struct{})
	go s.writePump(done)

	s.readPump(authDeadline)
	close(done)

	s.terminate()
}

func (s *SocketSession) onAuthDeadline() {
	if s.conn.Status() == StateAuthenticated {
		return
	}
	s.sendError(errors.AuthenticationFailed("authentication deadline exceeded"))
	s.conn.enqueue(nil) // wake the write pump so it notices the closed socket promptly
	_ = s.conn.socket.Close()
}

func (s *SocketSession) readPump(authDeadline *time.Timer) {
	idleLimit := 2 * s.deps.ResponseTimeout
	s.conn.socket.SetReadDeadline(time.Now().Add(s.deps.AuthDeadline))
	s.conn.socket.SetPongHandler(func(string) error {
		s.conn.Touch()
		s.conn.socket.SetReadDeadline(time.Now().Add(idleLimit))
		return nil
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WebSocket().Debug().Err(err).Str("connectionId", s.conn.ID).Msg("socket closed unexpectedly")
			}
			return
		}

		s.conn.Touch()
		if s.conn.Status() == StateAuthenticated {
			s.conn.socket.SetReadDeadline(time.Now().Add(idleLimit))
		}

		var in inboundFrame
		if err := json.Unmarshal(raw, &in); err != nil {
			s.sendError(errors.InvalidMessageFormat("malformed frame"))
			continue
		}

		if s.dispatch(in, authDeadline) {
			return
		}
	}
}

// dispatch handles one inbound frame, returning true if the session
// should terminate.
func (s *SocketSession) dispatch(in inboundFrame, authDeadline *time.Timer) bool {
	switch in.Event {
	case "authenticate":
		return s.handleAuthenticate(in.Data, authDeadline)
	case "message":
		s.handleMessage(in.Data)
	case "typing":
		s.handleTyping(in.Data)
	case "heartbeat":
		// activity already recorded above; no further action needed.
	default:
		s.sendError(errors.InvalidMessageFormat("unknown event"))
	}
	return false
}

func (s *SocketSession) handleAuthenticate(data json.RawMessage, authDeadline *time.Timer) bool {
	if s.conn.Status() != StateConnected {
		return false
	}
	s.conn.setStatus(StateAuthenticating)

	var req AuthenticateFrame
	if err := json.Unmarshal(data, &req); err != nil {
		s.failAuthentication(errors.AuthenticationFailed("malformed authenticate frame"))
		return true
	}

	decision, err := s.deps.Limiter.Consume(s.ctx, ratelimit.ClassAuthenticationAttempts, s.conn.Metadata.RemoteAddr, ratelimit.CostDefault)
	if err != nil || !decision.Allowed {
		s.failAuthentication(errors.AuthenticationFailed("too many authentication attempts"))
		return true
	}

	claims, err := s.deps.Verifier.Verify(req.Token)
	if err != nil || claims.AgentID != req.AgentID {
		s.failAuthentication(errors.AuthenticationFailed("invalid credentials"))
		return true
	}

	authDeadline.Stop()
	s.conn.PublicKey = req.PublicKey

	superseded := s.deps.Table.Authenticate(s.conn, req.AgentID, req.UserID)
	if superseded != nil {
		logger.WebSocket().Info().Str("agentId", req.AgentID).Msg("superseding prior connection for agent")
		superseded.setStatus(StateDisconnecting)
		superseded.enqueue(nil)
		go func() { _ = superseded.socket.Close() }()
	}

	s.deps.Presence.Online(req.AgentID)

	payload, _ := json.Marshal(frame{Event: "authenticated", Data: AuthenticatedFrame{ConnectionID: s.conn.ID, AgentID: req.AgentID}})
	s.conn.enqueue(payload)

	s.startHeartbeat()
	return false
}

func (s *SocketSession) failAuthentication(relayErr *errors.RelayError) {
	s.conn.setStatus(StateError)
	s.sendError(relayErr)
}

func (s *SocketSession) handleMessage(data json.RawMessage) {
	if s.conn.Status() != StateAuthenticated {
		return
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError(errors.InvalidMessageFormat("malformed message envelope"))
		return
	}
	env.Message.SenderAgentID = s.conn.AgentID

	decision, err := s.deps.Limiter.Consume(s.ctx, ratelimit.ClassWebSocketMessages, s.conn.AgentID, messageCost(env.Message.MessageType))
	if err != nil || !decision.Allowed {
		retryAfter := 1
		if decision.RetryAfter > 0 {
			retryAfter = int(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
		}
		s.sendError(errors.RateLimitExceeded(retryAfter))
		return
	}

	status := s.deps.Router.Route(env, nil)
	ack := buildAck(env.Message.MessageID, status)
	payload, _ := json.Marshal(frame{Event: "ack", Data: ack})
	s.conn.enqueue(payload)
}

func (s *SocketSession) handleTyping(data json.RawMessage) {
	if s.conn.Status() != StateAuthenticated {
		return
	}
	var indicator TypingIndicator
	if err := json.Unmarshal(data, &indicator); err != nil {
		return
	}
	indicator.AgentID = s.conn.AgentID

	if recipient, ok := s.deps.Table.GetByAgentID(indicator.ConversationID); ok && recipient.Status() == StateAuthenticated {
		payload, _ := json.Marshal(frame{Event: "typing", Data: indicator})
		recipient.enqueue(payload)
	}
}

// startHeartbeat sends a server->client heartbeat frame on every interval
// while the session is authenticated. Idle-eviction is not done here: it
// comes from readPump's read deadline and from the Reaper's sweep, run on
// a shared schedule rather than one goroutine per session.
func (s *SocketSession) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(s.deps.HeartbeatPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if s.conn.Status() != StateAuthenticated {
					return
				}
				payload, _ := json.Marshal(frame{Event: "heartbeat", Data: nil})
				if !s.conn.enqueue(payload) {
					return
				}
			}
		}
	}()
}

// messageCost maps a message type to its rate-limit point cost.
func messageCost(t MessageType) float64 {
	switch t {
	case MessageTypeHeartbeat:
		return ratelimit.CostHeartbeat
	case MessageTypeHandshake:
		return ratelimit.CostHandshake
	default:
		return ratelimit.CostDefault
	}
}

func (s *SocketSession) sendError(relayErr *errors.RelayError) {
	payload, _ := json.Marshal(frame{Event: "error", Data: relayErr.ToFrame()})
	s.conn.enqueue(payload)
}

// writePump is the sole goroutine permitted to write to the underlying
// socket, draining the connection's send channel and issuing a ping every
// HeartbeatPeriod for as long as the session runs.
func (s *SocketSession) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(s.deps.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-s.conn.send:
			s.conn.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if message == nil {
				continue
			}
			if err := s.conn.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-s.ctx.Done():
			_ = s.conn.socket.Close()
			return
		}
	}
}

// terminate runs the DISCONNECTED transition: remove from the table,
// emit presence(offline) if the agent had authenticated, and update stats.
func (s *SocketSession) terminate() {
	wasAuthenticated := s.conn.AgentID != ""
	agentID := s.conn.AgentID

	s.conn.setStatus(StateDisconnected)
	s.deps.Table.Remove(s.conn.ID)
	s.deps.Stats.connectionClosed()

	if wasAuthenticated && agentID != "" {
		if current, ok := s.deps.Table.GetByAgentID(agentID); !ok || current.ID == s.conn.ID {
			s.deps.Presence.Offline(agentID)
		}
	}

	logger.WebSocket().Debug().Str("connectionId", s.conn.ID).Str("agentId", agentID).Msg("session terminated")
}
