package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdmin(t *testing.T) (*Server, *AdminSurface, *gin.Engine) {
	t.Helper()
	server, _, _ := newTestServer(t)
	admin := NewAdminSurface(server, nil)
	router := gin.New()
	admin.RegisterRoutes(router)
	return server, admin, router
}

func authenticateOverHTTP(t *testing.T, wsURL, agentID, userID string) {
	t.Helper()
	conn := dial(t, wsURL)
	require.NoError(t, conn.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, agentID, userID),
		AgentID:   agentID,
		UserID:    userID,
		PublicKey: "pk-" + agentID,
	})))
	readFrame(t, conn)
}

func TestAdminSurface_HealthAndStats(t *testing.T) {
	server, admin, router := newTestAdmin(t)
	_ = server

	req := httptest.NewRequest(http.MethodGet, "/websocket/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.False(t, health["pubsubConnected"].(bool), "no bus configured in this test should report disconnected")

	req = httptest.NewRequest(http.MethodGet, "/websocket/stats", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	_ = admin
}

func TestAdminSurface_ConnectionStatusAndDetails(t *testing.T) {
	_, _, router := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodGet, "/websocket/connection/agent-missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status["isConnected"].(bool))

	req = httptest.NewRequest(http.MethodGet, "/websocket/connection/agent-missing/details", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSurface_DisconnectUnknownAgent(t *testing.T) {
	_, _, router := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodDelete, "/websocket/connection/agent-missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminSurface_InjectMessageRequiresValidEnvelope(t *testing.T) {
	_, _, router := newTestAdmin(t)

	body, _ := json.Marshal(map[string]interface{}{"envelope": map[string]interface{}{}})
	req := httptest.NewRequest(http.MethodPost, "/websocket/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSurface_InjectMessageDeliversToLocalAgent(t *testing.T) {
	srv, _, wsURL := newTestServer(t)
	admin := NewAdminSurface(srv, nil)
	router := gin.New()
	admin.RegisterRoutes(router)

	conn := dial(t, wsURL)
	require.NoError(t, conn.WriteJSON(inboundFrameFor(t, "authenticate", AuthenticateFrame{
		Token:     testToken(t, "agent-inject", "user-inject"),
		AgentID:   "agent-inject",
		UserID:    "user-inject",
		PublicKey: "pk",
	})))
	readFrame(t, conn)

	require.Eventually(t, func() bool {
		return srv.Table().IsConnected("agent-inject")
	}, time.Second, 10*time.Millisecond)

	env := Envelope{Message: Message{
		MessageID:        "injected-1",
		SenderAgentID:    "operator",
		RecipientAgentID: "agent-inject",
		MessageType:      MessageTypeQuery,
		Timestamp:        time.Now().UnixMilli(),
	}}
	body, _ := json.Marshal(map[string]interface{}{"envelope": env})
	req := httptest.NewRequest(http.MethodPost, "/websocket/message", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	delivered := readFrame(t, conn)
	assert.Equal(t, "message", delivered.Event)
}
