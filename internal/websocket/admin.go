package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/streamspace/api/internal/errors"
	"github.com/streamspace/streamspace/api/internal/pubsub"
	"github.com/streamspace/streamspace/api/internal/validator"
)

// AdminSurface exposes read-only operator endpoints plus a forced
// disconnect operation. It never returns a connection's public key or
// transport handle.
type AdminSurface struct {
	server *Server
	bus    pubsub.Bus
}

// NewAdminSurface builds an AdminSurface over the given Server.
func NewAdminSurface(server *Server, bus pubsub.Bus) *AdminSurface {
	return &AdminSurface{server: server, bus: bus}
}

// connectionDetails is the sanitized, client-safe view of a Connection.
type connectionDetails struct {
	ConnectionID   string    `json:"connectionId"`
	AgentID        string    `json:"agentId"`
	UserID         string    `json:"userId"`
	Status         State     `json:"status"`
	ConnectedAt    string    `json:"connectedAt"`
	LastActivityAt string    `json:"lastActivityAt"`
	RemoteAddr     string    `json:"remoteAddr"`
}

// RegisterRoutes mounts the admin endpoints under a gin router group that
// already has authentication and rate-limit middleware applied.
func (a *AdminSurface) RegisterRoutes(r gin.IRouter) {
	r.GET("/websocket/stats", a.handleStats)
	r.GET("/websocket/health", a.handleHealth)
	r.GET("/websocket/connection/:agentId", a.handleConnectionStatus)
	r.GET("/websocket/connection/:agentId/details", a.handleConnectionDetails)
	r.DELETE("/websocket/connection/:agentId", a.handleDisconnect)
	r.POST("/websocket/message", a.handleInjectMessage)
	r.POST("/websocket/broadcast", a.handleInjectBroadcast)
}

func (a *AdminSurface) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.server.Stats())
}

func (a *AdminSurface) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"pubsubConnected":   a.bus != nil && a.bus.IsConnected(),
		"activeConnections": a.server.Stats().ActiveConnections,
	})
}

func (a *AdminSurface) handleConnectionStatus(c *gin.Context) {
	agentID := c.Param("agentId")
	_, connected := a.server.Table().GetByAgentID(agentID)
	c.JSON(http.StatusOK, gin.H{"isConnected": connected, "agentId": agentID})
}

func (a *AdminSurface) handleConnectionDetails(c *gin.Context) {
	agentID := c.Param("agentId")
	conn, ok := a.server.Table().GetByAgentID(agentID)
	if !ok {
		relayErr := errors.NotFound("connection")
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}

	c.JSON(http.StatusOK, connectionDetails{
		ConnectionID:   conn.ID,
		AgentID:        conn.AgentID,
		UserID:         conn.UserID,
		Status:         conn.Status(),
		ConnectedAt:    conn.ConnectedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		LastActivityAt: conn.LastActivity().UTC().Format("2006-01-02T15:04:05.000Z"),
		RemoteAddr:     conn.Metadata.RemoteAddr,
	})
}

func (a *AdminSurface) handleDisconnect(c *gin.Context) {
	agentID := c.Param("agentId")
	ok := a.server.DisconnectAgent(agentID)
	if !ok {
		relayErr := errors.NotFound("connection")
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "agentId": agentID})
}

// injectRequest is the operator-originated message body for server-side
// injection, validated against the same envelope shape as client traffic.
type injectRequest struct {
	Envelope Envelope `json:"envelope" validate:"required"`
	Exclude  []string `json:"excludeAgentIds,omitempty"`
}

func (a *AdminSurface) handleInjectMessage(c *gin.Context) {
	var req injectRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}
	if err := ValidateEnvelope(&req.Envelope); err != nil {
		relayErr, _ := err.(*errors.RelayError)
		c.JSON(relayErr.StatusCode, relayErr)
		return
	}

	status := a.server.router.direct(req.Envelope)
	c.JSON(http.StatusOK, buildAck(req.Envelope.Message.MessageID, status))
}

func (a *AdminSurface) handleInjectBroadcast(c *gin.Context) {
	var req injectRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	status := a.server.router.broadcast(req.Envelope, req.Exclude)
	c.JSON(http.StatusOK, buildAck(req.Envelope.Message.MessageID, status))
}
