package websocket

import (
	"sync/atomic"
	"time"
)

// statsRecorder holds the server-wide counters described in the data
// model, backed by sync/atomic so no lock is needed on the request path.
type statsRecorder struct {
	totalConnectionsEver int64
	activeConnections    int64
	messagesReceived     int64
	messagesSent         int64
	messagesDelivered    int64
	messagesFailed       int64
	startTime            time.Time
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{startTime: time.Now()}
}

func (s *statsRecorder) connectionOpened() {
	atomic.AddInt64(&s.totalConnectionsEver, 1)
	atomic.AddInt64(&s.activeConnections, 1)
}

func (s *statsRecorder) connectionClosed() {
	atomic.AddInt64(&s.activeConnections, -1)
}

func (s *statsRecorder) messageReceived() {
	atomic.AddInt64(&s.messagesReceived, 1)
}

func (s *statsRecorder) recordDelivery(status DeliveryStatus) {
	switch status {
	case DeliveryStatusSent:
		atomic.AddInt64(&s.messagesSent, 1)
	case DeliveryStatusDelivered:
		atomic.AddInt64(&s.messagesDelivered, 1)
	case DeliveryStatusFailed:
		atomic.AddInt64(&s.messagesFailed, 1)
	}
}

func (s *statsRecorder) snapshot() Stats {
	return Stats{
		TotalConnectionsEver: atomic.LoadInt64(&s.totalConnectionsEver),
		ActiveConnections:    atomic.LoadInt64(&s.activeConnections),
		MessagesReceived:     atomic.LoadInt64(&s.messagesReceived),
		MessagesSent:         atomic.LoadInt64(&s.messagesSent),
		MessagesDelivered:    atomic.LoadInt64(&s.messagesDelivered),
		MessagesFailed:       atomic.LoadInt64(&s.messagesFailed),
		StartTime:            s.startTime,
	}
}
