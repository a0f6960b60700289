package websocket

import (
	"time"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Reaper periodically sweeps the ConnectionTable and closes any
// AUTHENTICATED connection whose last activity is older than the idle
// limit. It snapshots the table and performs socket I/O outside the
// table's lock, per the concurrency model.
type Reaper struct {
	table           *ConnectionTable
	idleLimit       time.Duration
}

// NewReaper builds a Reaper for the given idle limit (2x response-timeout
// by convention).
func NewReaper(table *ConnectionTable, idleLimit time.Duration) *Reaper {
	return &Reaper{table: table, idleLimit: idleLimit}
}

// Sweep runs one reaping pass. Intended to be invoked on a robfig/cron
// schedule alongside the rate limiter's bucket GC.
func (r *Reaper) Sweep() {
	now := time.Now()
	evicted := 0

	for _, conn := range r.table.Snapshot() {
		if conn.Status() != StateAuthenticated {
			continue
		}
		if now.Sub(conn.LastActivity()) <= r.idleLimit {
			continue
		}
		conn.setStatus(StateDisconnecting)
		conn.mu.RLock()
		socket := conn.socket
		conn.mu.RUnlock()
		if socket != nil {
			_ = socket.Close()
		}
		evicted++
	}

	if evicted > 0 {
		logger.WebSocket().Info().Int("evicted", evicted).Msg("reaper evicted idle connections")
	}
}
