package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/pubsub"
)

// PresenceService fans out online/offline transitions to local
// AUTHENTICATED sockets and to the presence-updates channel. A short
// coalescing window absorbs the offline/online flap a supersede produces
// into a single online event per agent.
type PresenceService struct {
	table   *ConnectionTable
	bus     pubsub.Bus
	window  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewPresenceService builds a PresenceService with the given coalescing
// window (0 disables coalescing and emits every transition immediately).
func NewPresenceService(table *ConnectionTable, bus pubsub.Bus, window time.Duration) *PresenceService {
	p := &PresenceService{table: table, bus: bus, window: window, pending: make(map[string]*time.Timer)}
	if bus != nil {
		_ = bus.Subscribe(pubsub.ChannelPresenceUpdates, p.onBusPresence)
	}
	return p
}

// Online reports an agent's connection entering AUTHENTICATED.
func (p *PresenceService) Online(agentID string) {
	p.schedule(agentID, PresenceOnline)
}

// Offline reports an agent's connection leaving AUTHENTICATED.
func (p *PresenceService) Offline(agentID string) {
	p.schedule(agentID, PresenceOffline)
}

// schedule coalesces rapid offline-then-online flaps (the supersede case)
// into the single latest event within the window, then emits it.
func (p *PresenceService) schedule(agentID string, status PresenceStatus) {
	if p.window <= 0 {
		p.emit(agentID, status)
		return
	}

	p.mu.Lock()
	if existing, ok := p.pending[agentID]; ok {
		existing.Stop()
	}
	p.pending[agentID] = time.AfterFunc(p.window, func() {
		p.mu.Lock()
		delete(p.pending, agentID)
		p.mu.Unlock()
		p.emit(agentID, status)
	})
	p.mu.Unlock()
}

func (p *PresenceService) emit(agentID string, status PresenceStatus) {
	event := PresenceEvent{AgentID: agentID, Status: status, Timestamp: time.Now().UnixMilli()}
	p.broadcastLocal(event, agentID)

	if p.bus == nil || !p.bus.IsConnected() {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WebSocket().Error().Err(err).Msg("failed to marshal presence event")
		return
	}
	if err := p.bus.Publish(pubsub.ChannelPresenceUpdates, payload); err != nil {
		logger.WebSocket().Warn().Err(err).Msg("failed to publish presence event")
	}
}

func (p *PresenceService) broadcastLocal(event PresenceEvent, exceptAgentID string) {
	payload, err := json.Marshal(frame{Event: "presence", Data: event})
	if err != nil {
		logger.WebSocket().Error().Err(err).Msg("failed to marshal presence frame")
		return
	}
	for _, conn := range p.table.Snapshot() {
		if conn.Status() != StateAuthenticated || conn.AgentID == exceptAgentID {
			continue
		}
		conn.enqueue(payload)
	}
}

// onBusPresence fans out a presence event received from another instance
// to this instance's local sockets, without re-publishing it.
func (p *PresenceService) onBusPresence(payload []byte) {
	var event PresenceEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.WebSocket().Warn().Err(err).Msg("failed to unmarshal bus presence event")
		return
	}
	p.broadcastLocal(event, "")
}
