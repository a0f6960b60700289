package websocket

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/streamspace/streamspace/api/internal/errors"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/pubsub"
)

var envelopeValidator = validator.New()

// Router resolves a message envelope's recipient locally or over the
// PubSubBus, as described in the data flow: validate, then local delivery,
// then cross-instance hand-off, then acknowledgement.
type Router struct {
	table      *ConnectionTable
	bus        pubsub.Bus
	stats      *statsRecorder
	instanceID string
}

func newRouter(table *ConnectionTable, bus pubsub.Bus, stats *statsRecorder, instanceID string) *Router {
	r := &Router{table: table, bus: bus, stats: stats, instanceID: instanceID}
	if bus != nil {
		_ = bus.Subscribe(pubsub.ChannelAgentMessages, r.onBusMessage)
	}
	return r
}

// ValidateEnvelope checks an inbound envelope against the shape rules in
// the external interfaces: required fields, a known message type, and a
// non-empty recipient for directed types.
func ValidateEnvelope(env *Envelope) error {
	if err := envelopeValidator.Struct(env); err != nil {
		return errors.InvalidMessageFormat("malformed message envelope")
	}
	if env.Message.MessageType.RequiresRecipient() && env.Message.RecipientAgentID == "" {
		return errors.InvalidMessageFormat("recipientAgentId is required for this message type")
	}
	return nil
}

// Route implements the routing algorithm: validate, then broadcast or
// directed delivery, updating statistics as it goes.
func (r *Router) Route(env Envelope, exclude []string) DeliveryStatus {
	if err := ValidateEnvelope(&env); err != nil {
		r.stats.recordDelivery(DeliveryStatusFailed)
		return DeliveryStatusFailed
	}

	r.stats.messageReceived()

	if env.Message.RecipientAgentID == "" {
		return r.broadcast(env, exclude)
	}
	return r.direct(env)
}

func (r *Router) broadcast(env Envelope, exclude []string) DeliveryStatus {
	excluded := make(map[string]bool, len(exclude)+1)
	excluded[env.Message.SenderAgentID] = true
	for _, id := range exclude {
		excluded[id] = true
	}

	delivered := r.deliverLocalBroadcast(env, excluded)

	if r.bus != nil && r.bus.IsConnected() {
		payload, err := json.Marshal(busEnvelope{
			Envelope:         env,
			IsBroadcast:      true,
			ExcludeAgentIDs:  exclude,
			OriginInstanceID: r.instanceID,
		})
		if err != nil {
			logger.Router().Error().Err(err).Msg("failed to marshal broadcast envelope")
		} else if err := r.bus.Publish(pubsub.ChannelAgentMessages, payload); err != nil {
			logger.Router().Warn().Err(err).Msg("failed to publish broadcast envelope")
		}
	}

	r.stats.recordDelivery(DeliveryStatusDelivered)
	logger.Router().Debug().Str("messageId", env.Message.MessageID).Int("recipients", delivered).Msg("broadcast routed")
	return DeliveryStatusDelivered
}

func (r *Router) deliverLocalBroadcast(env Envelope, excluded map[string]bool) int {
	delivered := 0
	for _, conn := range r.table.Snapshot() {
		if conn.Status() != StateAuthenticated || excluded[conn.AgentID] {
			continue
		}
		if r.writeEnvelope(conn, env) {
			delivered++
		}
	}
	return delivered
}

func (r *Router) direct(env Envelope) DeliveryStatus {
	if conn, ok := r.table.GetByAgentID(env.Message.RecipientAgentID); ok && conn.Status() == StateAuthenticated {
		if r.writeEnvelope(conn, env) {
			r.stats.recordDelivery(DeliveryStatusDelivered)
			return DeliveryStatusDelivered
		}
		r.stats.recordDelivery(DeliveryStatusFailed)
		return DeliveryStatusFailed
	}

	if r.bus != nil && r.bus.IsConnected() {
		payload, err := json.Marshal(busEnvelope{Envelope: env, OriginInstanceID: r.instanceID})
		if err != nil {
			logger.Router().Error().Err(err).Msg("failed to marshal directed envelope")
		} else if err := r.bus.Publish(pubsub.ChannelAgentMessages, payload); err == nil {
			r.stats.recordDelivery(DeliveryStatusSent)
			return DeliveryStatusSent
		}
	}

	r.stats.recordDelivery(DeliveryStatusFailed)
	return DeliveryStatusFailed
}

func (r *Router) writeEnvelope(conn *Connection, env Envelope) bool {
	payload, err := json.Marshal(frame{Event: "message", Data: env})
	if err != nil {
		logger.Router().Error().Err(err).Msg("failed to marshal envelope for local delivery")
		return false
	}
	return conn.enqueue(payload)
}

// onBusMessage handles an envelope delivered by another instance over
// PubSubBus: broadcast fan-out locally, or a best-effort directed write if
// the recipient happens to be local; otherwise it is silently dropped.
func (r *Router) onBusMessage(payload []byte) {
	var msg busEnvelope
	if err := json.Unmarshal(payload, &msg); err != nil {
		logger.Router().Warn().Err(err).Msg("failed to unmarshal bus envelope")
		return
	}
	if msg.OriginInstanceID == r.instanceID {
		return
	}

	if msg.IsBroadcast {
		excluded := make(map[string]bool, len(msg.ExcludeAgentIDs)+1)
		excluded[msg.Envelope.Message.SenderAgentID] = true
		for _, id := range msg.ExcludeAgentIDs {
			excluded[id] = true
		}
		r.deliverLocalBroadcast(msg.Envelope, excluded)
		return
	}

	if conn, ok := r.table.GetByAgentID(msg.Envelope.Message.RecipientAgentID); ok && conn.Status() == StateAuthenticated {
		r.writeEnvelope(conn, msg.Envelope)
	}
}

// buildAck constructs the acknowledgement frame for a routed message.
func buildAck(messageID string, status DeliveryStatus) Ack {
	return Ack{MessageID: messageID, Status: status, Timestamp: time.Now().UnixMilli()}
}
