// Package websocket implements the relay's connection lifecycle engine:
// per-socket session state machines, the in-memory connection table,
// cross-instance message routing, presence, and idle-connection reaping.
package websocket

import "time"

// MessageType enumerates the application-level message kinds the relay
// routes. The relay never interprets payload content beyond this tag.
type MessageType string

const (
	MessageTypeHandshake    MessageType = "HANDSHAKE"
	MessageTypeQuery        MessageType = "QUERY"
	MessageTypeResponse     MessageType = "RESPONSE"
	MessageTypeProposal     MessageType = "PROPOSAL"
	MessageTypeConfirmation MessageType = "CONFIRMATION"
	MessageTypeRejection    MessageType = "REJECTION"
	MessageTypeHeartbeat    MessageType = "HEARTBEAT"
)

// directedTypes requires a non-empty RecipientAgentID; HEARTBEAT does not.
var directedTypes = map[MessageType]bool{
	MessageTypeHandshake:    true,
	MessageTypeQuery:        true,
	MessageTypeResponse:     true,
	MessageTypeProposal:     true,
	MessageTypeConfirmation: true,
	MessageTypeRejection:    true,
}

// RequiresRecipient reports whether t must carry a non-empty recipient.
func (t MessageType) RequiresRecipient() bool {
	return directedTypes[t]
}

// Priority is the application-supplied delivery priority. The relay never
// acts on this beyond carrying it through.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// EnvelopeMetadata carries application-layer hints the relay passes
// through without interpreting.
type EnvelopeMetadata struct {
	Priority         Priority `json:"priority,omitempty"`
	ExpiresAt        int64    `json:"expiresAt,omitempty"`
	Encrypted        bool     `json:"encrypted"`
	RequiresResponse bool     `json:"requiresResponse"`
}

// Message is the application payload carried inside an Envelope, as
// described in the data model: opaque content, shape-validated only.
type Message struct {
	MessageID        string           `json:"messageId" validate:"required"`
	ConversationID   string           `json:"conversationId,omitempty"`
	SenderAgentID    string           `json:"senderAgentId" validate:"required"`
	RecipientAgentID string           `json:"recipientAgentId,omitempty"`
	MessageType      MessageType      `json:"messageType" validate:"required,oneof=HANDSHAKE QUERY RESPONSE PROPOSAL CONFIRMATION REJECTION HEARTBEAT"`
	Content          interface{}      `json:"content,omitempty"`
	Timestamp        int64            `json:"timestamp" validate:"required"`
	Metadata         EnvelopeMetadata `json:"metadata"`
	Signature        string           `json:"signature,omitempty"`
}

// Envelope is the transport-neutral wire shape for a bidirectional
// `message` frame.
type Envelope struct {
	Message   Message `json:"message" validate:"required"`
	Encrypted bool    `json:"encrypted"`
	Signature string  `json:"signature,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// busEnvelope is the payload published to the agent-messages channel: an
// Envelope plus the broadcast routing metadata local delivery doesn't need.
type busEnvelope struct {
	Envelope         Envelope `json:"envelope"`
	IsBroadcast      bool     `json:"_isBroadcast,omitempty"`
	ExcludeAgentIDs  []string `json:"_excludeAgentIds,omitempty"`
	OriginInstanceID string   `json:"_originInstanceId,omitempty"`
}

// DeliveryStatus is the outcome of a Router.Route call.
type DeliveryStatus string

const (
	DeliveryStatusSent      DeliveryStatus = "SENT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
)

// Ack is the bidirectional acknowledgement frame.
type Ack struct {
	MessageID string         `json:"messageId"`
	Status    DeliveryStatus `json:"status"`
	Timestamp int64          `json:"timestamp"`
}

// PresenceStatus is an agent's online/offline state.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceEvent is broadcast locally and over the presence-updates channel.
type PresenceEvent struct {
	AgentID   string         `json:"agentId"`
	Status    PresenceStatus `json:"status"`
	Timestamp int64          `json:"timestamp"`
}

// TypingIndicator is a bidirectional, unvalidated relay-internal frame.
type TypingIndicator struct {
	AgentID        string `json:"agentId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// AuthenticateFrame is the client->server credential submission.
type AuthenticateFrame struct {
	Token     string `json:"token" validate:"required"`
	AgentID   string `json:"agentId" validate:"required"`
	UserID    string `json:"userId" validate:"required"`
	PublicKey string `json:"publicKey" validate:"required"`
}

// AuthenticatedFrame is the server->client confirmation of a successful
// authentication.
type AuthenticatedFrame struct {
	ConnectionID string `json:"connectionId"`
	AgentID      string `json:"agentId"`
}

// ErrorFrame mirrors internal/errors.ErrorFrame for socket emission.
type ErrorFrame struct {
	ErrorType string `json:"errorType"`
	Message   string `json:"message"`
}

// Stats is the server-wide statistics snapshot exposed over AdminSurface.
type Stats struct {
	TotalConnectionsEver int64     `json:"totalConnectionsEver"`
	ActiveConnections    int64     `json:"activeConnections"`
	MessagesReceived     int64     `json:"messagesReceived"`
	MessagesSent         int64     `json:"messagesSent"`
	MessagesDelivered    int64     `json:"messagesDelivered"`
	MessagesFailed       int64     `json:"messagesFailed"`
	StartTime            time.Time `json:"startTime"`
}
