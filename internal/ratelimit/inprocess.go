package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pointEpsilon absorbs float64 drift from repeated fractional subtraction
// (see messageCost's HEARTBEAT=0.1 class) so a bucket sitting at a value
// like 3 - 29*0.1 that lands a hair below the 0.1 cost isn't denied spuriously.
const pointEpsilon = 1e-9

const windowDuration = 60 * time.Second

// bucket mirrors the shared Redis backend's fixed-budget-per-window
// arithmetic: remaining holds points left in the current window,
// refreshed to the full per-minute cap once windowExpiresAt has passed.
// A post-exhaustion block, once tripped, denies every Consume call until
// blockedUntil passes; clearing a block always hands back a full bucket,
// same as the shared backend forgetting a quota key once its own TTL
// (the block duration) lapses rather than making the caller wait out the
// full points window behind it.
type bucket struct {
	mu              sync.Mutex
	remaining       float64
	windowExpiresAt time.Time
	blockedUntil    time.Time
	cfg             ClassConfig
}

func newBucket(cfg ClassConfig) *bucket {
	return &bucket{cfg: cfg}
}

func (b *bucket) consume(now time.Time, cost float64) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Before(b.blockedUntil) {
		return Decision{Allowed: false, RetryAfter: b.blockedUntil.Sub(now)}
	}
	if !b.blockedUntil.IsZero() {
		b.blockedUntil = time.Time{}
		b.windowExpiresAt = time.Time{}
	}

	if b.windowExpiresAt.IsZero() || !now.Before(b.windowExpiresAt) {
		b.remaining = b.cfg.PointsPerMinute
	}

	if b.remaining+pointEpsilon < cost {
		if b.cfg.BlockDuration > 0 {
			b.blockedUntil = now.Add(b.cfg.BlockDuration)
			return Decision{Allowed: false, RetryAfter: b.cfg.BlockDuration}
		}
		retryAfter := b.windowExpiresAt.Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.remaining -= cost
	if b.remaining < 0 {
		b.remaining = 0
	}
	b.windowExpiresAt = now.Add(windowDuration)
	return Decision{Allowed: true}
}

// InProcess is a single-instance Limiter backend. Every (class, identity)
// pair gets its own bucket; a periodic sweep (see GC) bounds memory by
// discarding the whole map once it grows past a threshold, mirroring the
// coarse cleanup the teacher's per-IP rate limiter already performs.
type InProcess struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	classes map[Class]ClassConfig
	maxKeys int
}

// NewInProcess builds an in-process limiter for the given class configs.
func NewInProcess(classes map[Class]ClassConfig) *InProcess {
	return &InProcess{
		buckets: make(map[string]*bucket),
		classes: classes,
		maxKeys: 50000,
	}
}

func (p *InProcess) key(class Class, identity string) string {
	return string(class) + "|" + identity
}

func (p *InProcess) getBucket(class Class, identity string) *bucket {
	k := p.key(class, identity)

	p.mu.RLock()
	b, ok := p.buckets[k]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[k]; ok {
		return b
	}
	b = newBucket(p.classes[class])
	p.buckets[k] = b
	return b
}

// Consume charges cost points against the (class, identity) bucket.
func (p *InProcess) Consume(_ context.Context, class Class, identity string, cost float64) (Decision, error) {
	b := p.getBucket(class, identity)
	return b.consume(time.Now(), cost), nil
}

// GC discards all tracked buckets once the map grows past the configured
// threshold. Intended to run on a robfig/cron schedule.
func (p *InProcess) GC() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buckets) > p.maxKeys {
		p.buckets = make(map[string]*bucket)
	}
}

// Len reports the number of tracked buckets, for tests and metrics.
func (p *InProcess) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buckets)
}
