package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/ratelimit"
)

const testHMACSecret = "server-test-secret"

func testToken(t *testing.T, agentID, userID string) string {
	t.Helper()
	claims := auth.Claims{
		UserID:  userID,
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testHMACSecret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (*Server, *httptest.Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	generous := map[ratelimit.Class]ratelimit.ClassConfig{
		ratelimit.ClassConnectionAttempts:     {PointsPerMinute: 1000, BlockDuration: time.Second},
		ratelimit.ClassAuthenticationAttempts: {PointsPerMinute: 1000, BlockDuration: time.Second},
		ratelimit.ClassGeneralAPI:             {PointsPerMinute: 1000, BlockDuration: time.Second},
		ratelimit.ClassWebSocketMessages:      {PointsPerMinute: 1000, BlockDuration: time.Second},
	}
	limiter := ratelimit.New(ratelimit.NewInProcess(generous))
	verifier := auth.NewHMACVerifier(testHMACSecret, "")

	cfg := Config{
		Path:             "/socket.io",
		MaxConnections:   10,
		AuthDeadline:     time.Second,
		HeartbeatPeriod:  50 * time.Millisecond,
		ResponseTimeout:  time.Second,
		PresenceCoalesce: time.Millisecond,
	}

	server := NewServer(cfg, nil, verifier, limiter)

	router := gin.New()
	server.RegisterRoutes(router)
	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + cfg.Path
	return server, httpSrv, wsURL
}

func dial(t *testing.T, wsURL string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *gorillaws.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestServer_AuthenticateAndExchangeMessage(t *testing.T) {
	server, _, wsURL := newTestServer(t)

	alice := dial(t, wsURL)
	require.NoError(t, alice.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, "agent-alice", "user-1"),
		AgentID:   "agent-alice",
		UserID:    "user-1",
		PublicKey: "pk-alice",
	})))
	f := readFrame(t, alice)
	require.Equal(t, "authenticated", f.Event)

	bob := dial(t, wsURL)
	require.NoError(t, bob.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, "agent-bob", "user-2"),
		AgentID:   "agent-bob",
		UserID:    "user-2",
		PublicKey: "pk-bob",
	})))
	f = readFrame(t, bob)
	require.Equal(t, "authenticated", f.Event)

	require.Eventually(t, func() bool {
		return server.Table().IsConnected("agent-alice") && server.Table().IsConnected("agent-bob")
	}, time.Second, 10*time.Millisecond)

	env := Envelope{Message: Message{
		MessageID:        "m-1",
		RecipientAgentID: "agent-bob",
		MessageType:      MessageTypeQuery,
		Timestamp:        time.Now().UnixMilli(),
	}}
	require.NoError(t, alice.WriteJSON(inboundFrameFor(t, "message", env)))

	ack := readFrame(t, alice)
	for ack.Event == "presence" || ack.Event == "heartbeat" {
		ack = readFrame(t, alice)
	}
	require.Equal(t, "ack", ack.Event)

	delivered := readFrame(t, bob)
	for delivered.Event == "presence" || delivered.Event == "heartbeat" {
		delivered = readFrame(t, bob)
	}
	require.Equal(t, "message", delivered.Event)

	var gotEnvelope Envelope
	raw, err := json.Marshal(delivered.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &gotEnvelope))
	assert.Equal(t, "agent-alice", gotEnvelope.Message.SenderAgentID)
	assert.Equal(t, env.Message.MessageID, gotEnvelope.Message.MessageID)
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	_, _, wsURL := newTestServer(t)
	conn := dial(t, wsURL)

	require.NoError(t, conn.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     "not-a-real-token",
		AgentID:   "agent-x",
		UserID:    "user-x",
		PublicKey: "pk",
	})))

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Event)
}

func TestServer_ConnectionLimitRejectsUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.New(ratelimit.NewInProcess(map[ratelimit.Class]ratelimit.ClassConfig{
		ratelimit.ClassConnectionAttempts: {PointsPerMinute: 1000, BlockDuration: time.Second},
	}))
	verifier := auth.NewHMACVerifier(testHMACSecret, "")
	cfg := Config{Path: "/socket.io", MaxConnections: 0, HeartbeatPeriod: time.Second, AuthDeadline: time.Second, ResponseTimeout: time.Second}
	server := NewServer(cfg, nil, verifier, limiter)

	router := gin.New()
	server.RegisterRoutes(router)
	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)

	resp, err := http.Get(httpSrv.URL + cfg.Path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServer_ConnectionAttemptRateLimitRejectsUpgrade(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := ratelimit.New(ratelimit.NewInProcess(map[ratelimit.Class]ratelimit.ClassConfig{
		ratelimit.ClassConnectionAttempts: {PointsPerMinute: 1, BlockDuration: time.Second},
	}))
	verifier := auth.NewHMACVerifier(testHMACSecret, "")
	cfg := Config{Path: "/socket.io", MaxConnections: 10, HeartbeatPeriod: time.Second, AuthDeadline: time.Second, ResponseTimeout: time.Second}
	server := NewServer(cfg, nil, verifier, limiter)

	router := gin.New()
	server.RegisterRoutes(router)
	httpSrv := httptest.NewServer(router)
	t.Cleanup(httpSrv.Close)

	resp, err := http.Get(httpSrv.URL + cfg.Path)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "first request must still consume from, not be rejected by, the budget")

	resp2, err := http.Get(httpSrv.URL + cfg.Path)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp2.StatusCode)
	assert.NotEmpty(t, resp2.Header.Get("Retry-After"))
}

func TestServer_DisconnectAgent(t *testing.T) {
	server, _, wsURL := newTestServer(t)
	conn := dial(t, wsURL)

	require.NoError(t, conn.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, "agent-z", "user-z"),
		AgentID:   "agent-z",
		UserID:    "user-z",
		PublicKey: "pk",
	})))
	readFrame(t, conn)

	require.Eventually(t, func() bool {
		return server.Table().IsConnected("agent-z")
	}, time.Second, 10*time.Millisecond)

	assert.True(t, server.DisconnectAgent("agent-z"))
	assert.False(t, server.DisconnectAgent("agent-z"), "second disconnect of the same agent must be a no-op")

	require.Eventually(t, func() bool {
		return !server.Table().IsConnected("agent-z")
	}, time.Second, 10*time.Millisecond)
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	server, _, wsURL := newTestServer(t)
	conn := dial(t, wsURL)

	require.NoError(t, conn.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, "agent-shutdown", "user-s"),
		AgentID:   "agent-shutdown",
		UserID:    "user-s",
		PublicKey: "pk",
	})))
	readFrame(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		server.Shutdown(200 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Shutdown did not return in time")
	}
	assert.Equal(t, 0, server.Table().Len())
}

func inboundFrameFor(t *testing.T, event string, data interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	var rawMap json.RawMessage = raw
	return map[string]interface{}{"event": event, "data": rawMap}
}
