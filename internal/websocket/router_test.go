package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(sender, recipient string, msgType MessageType) Envelope {
	return Envelope{
		Message: Message{
			MessageID:        "m1",
			SenderAgentID:    sender,
			RecipientAgentID: recipient,
			MessageType:      msgType,
			Timestamp:        time.Now().UnixMilli(),
		},
	}
}

func TestRouter_DirectDeliveryToLocalRecipient(t *testing.T) {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	router := newRouter(table, nil, stats, "instance-1")

	connB, _ := newTestConnection(t, "conn-b")
	table.Insert(connB)
	table.Authenticate(connB, "agent-b", "user-b")

	status := router.Route(testEnvelope("agent-a", "agent-b", MessageTypeQuery), nil)
	assert.Equal(t, DeliveryStatusDelivered, status)
	assert.Equal(t, int64(1), stats.snapshot().MessagesDelivered)
}

func TestRouter_DirectDeliveryNoRecipientNoBus(t *testing.T) {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	router := newRouter(table, nil, stats, "instance-1")

	status := router.Route(testEnvelope("agent-a", "agent-missing", MessageTypeQuery), nil)
	assert.Equal(t, DeliveryStatusFailed, status)
	assert.Equal(t, int64(1), stats.snapshot().MessagesFailed)
}

func TestRouter_RejectsMissingRecipientForDirectedType(t *testing.T) {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	router := newRouter(table, nil, stats, "instance-1")

	status := router.Route(testEnvelope("agent-a", "", MessageTypeQuery), nil)
	assert.Equal(t, DeliveryStatusFailed, status)
}

func TestRouter_HeartbeatDoesNotRequireRecipient(t *testing.T) {
	env := testEnvelope("agent-a", "", MessageTypeHeartbeat)
	err := ValidateEnvelope(&env)
	assert.NoError(t, err)
}

func TestRouter_BroadcastExcludesSenderAndExplicitList(t *testing.T) {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	router := newRouter(table, nil, stats, "instance-1")

	connA, _ := newTestConnection(t, "conn-a")
	connB, _ := newTestConnection(t, "conn-b")
	connC, _ := newTestConnection(t, "conn-c")
	table.Insert(connA)
	table.Insert(connB)
	table.Insert(connC)
	table.Authenticate(connA, "agent-a", "user-a")
	table.Authenticate(connB, "agent-b", "user-b")
	table.Authenticate(connC, "agent-c", "user-c")

	env := testEnvelope("agent-a", "", MessageTypeQuery)
	delivered := router.deliverLocalBroadcast(env, map[string]bool{"agent-a": true, "agent-c": true})
	assert.Equal(t, 1, delivered, "only agent-b should receive the broadcast")
}

func TestRouter_BroadcastReturnsDeliveredEvenWithNoRecipients(t *testing.T) {
	table := NewConnectionTable()
	stats := newStatsRecorder()
	router := newRouter(table, nil, stats, "instance-1")

	status := router.Route(testEnvelope("agent-a", "", MessageTypeHeartbeat), nil)
	assert.Equal(t, DeliveryStatusDelivered, status)
}

func TestValidateEnvelope_RejectsUnknownMessageType(t *testing.T) {
	env := Envelope{Message: Message{
		MessageID:     "m1",
		SenderAgentID: "agent-a",
		MessageType:   "BOGUS",
		Timestamp:     time.Now().UnixMilli(),
	}}
	err := ValidateEnvelope(&env)
	require.Error(t, err)
}
