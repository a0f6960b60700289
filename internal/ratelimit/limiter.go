package ratelimit

import (
	"context"
)

// Backend is satisfied by both InProcess and Shared.
type Backend interface {
	Consume(ctx context.Context, class Class, identity string, cost float64) (Decision, error)
}

// Limiter is the component other packages depend on. It owns no locking
// itself; all of that lives in the selected Backend.
type Limiter struct {
	backend Backend
}

// New wraps a Backend (InProcess or Shared) as a Limiter.
func New(backend Backend) *Limiter {
	return &Limiter{backend: backend}
}

// Consume charges cost points from the (class, identity) bucket.
func (l *Limiter) Consume(ctx context.Context, class Class, identity string, cost float64) (Decision, error) {
	if cost <= 0 {
		cost = CostDefault
	}
	return l.backend.Consume(ctx, class, identity, cost)
}

// ClassesFromConfig adapts the config package's RateLimitConfig shape
// into the map Consume's backends expect. Kept here (not in config) so
// the config package stays free of this package's types.
func ClassesFromConfig(connAttempts, authAttempts, generalAPI, wsMessages ClassConfig) map[Class]ClassConfig {
	return map[Class]ClassConfig{
		ClassConnectionAttempts:     connAttempts,
		ClassAuthenticationAttempts: authAttempts,
		ClassGeneralAPI:             generalAPI,
		ClassWebSocketMessages:      wsMessages,
	}
}
