// Package ratelimit implements the relay's token-bucket quota classes.
//
// Each (class, identity) pair owns one bucket holding points-per-minute
// and a post-exhaustion block duration, refilled on a sliding 60-second
// window. Two interchangeable backends satisfy the Backend interface: an
// in-process map of fractional-point buckets and a Redis-backed shared
// store for multi-instance deployments, both doing the same
// subtract-and-check arithmetic so fractional costs (HEARTBEAT = 0.1)
// behave identically regardless of backend. Callers always go through a
// Limiter, never to a concrete backend.
package ratelimit

import "time"

// Class names the four quota classes the relay enforces.
type Class string

const (
	ClassConnectionAttempts     Class = "connection-attempts"
	ClassAuthenticationAttempts Class = "authentication-attempts"
	ClassGeneralAPI             Class = "general-api"
	ClassWebSocketMessages      Class = "websocket-messages"
)

// ClassConfig holds the tunables for one bucket class.
type ClassConfig struct {
	PointsPerMinute float64
	BlockDuration   time.Duration
}

// Decision is the outcome of a single Consume call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Cost points charged per message type, per the envelope's message-type.
const (
	CostHeartbeat = 0.1
	CostHandshake = 2.0
	CostDefault   = 1.0
)
