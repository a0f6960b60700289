package pubsub

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// Config configures the NATS-backed Bus.
type Config struct {
	URL      string
	User     string
	Password string
	Prefix   string // subject prefix, e.g. "relay"
}

// NATSBus is a Bus backed by a NATS connection. Channel names are mapped
// to NATS subjects as "<prefix>.<channel>".
type NATSBus struct {
	conn   *nats.Conn
	prefix string

	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Connect dials NATS with the relay's standard reconnect policy. If cfg.URL
// is empty or the dial fails, it returns a disconnected NATSBus rather than
// an error — callers get graceful standalone-mode degradation instead of a
// dead component.
func Connect(cfg Config) *NATSBus {
	bus := &NATSBus{prefix: cfg.Prefix, subs: make(map[string]*nats.Subscription)}
	if cfg.URL == "" {
		logger.PubSub().Warn().Msg("pubsub URL not configured, running in standalone mode")
		return bus
	}

	opts := []nats.Option{
		nats.Name("agent-relay"),
		nats.NoEcho(),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.PubSub().Warn().Err(err).Msg("pubsub connection disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.PubSub().Info().Str("url", nc.ConnectedUrl()).Msg("pubsub reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.PubSub().Error().Err(err).Str("subject", subject).Msg("pubsub async error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.PubSub().Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to pubsub, running in standalone mode")
		return bus
	}

	logger.PubSub().Info().Str("url", conn.ConnectedUrl()).Msg("connected to pubsub")
	bus.conn = conn
	return bus
}

func (b *NATSBus) subject(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return fmt.Sprintf("%s.%s", b.prefix, channel)
}

// Publish sends payload to every other instance subscribed to channel. It is
// a no-op, not an error, when the bus is disconnected — the local instance
// still delivers to its own connections via the Router.
func (b *NATSBus) Publish(channel string, payload []byte) error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Publish(b.subject(channel), payload)
}

// Subscribe registers cb for channel. A no-op when disconnected.
func (b *NATSBus) Subscribe(channel string, cb Callback) error {
	if b.conn == nil {
		return nil
	}

	sub, err := b.conn.Subscribe(b.subject(channel), func(msg *nats.Msg) {
		cb(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	b.mu.Lock()
	b.subs[channel] = sub
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes the subscription registered for channel, if any.
func (b *NATSBus) Unsubscribe(channel string) {
	b.mu.Lock()
	sub, ok := b.subs[channel]
	delete(b.subs, channel)
	b.mu.Unlock()

	if ok {
		_ = sub.Unsubscribe()
	}
}

// IsConnected reports whether the bus currently has a live NATS connection.
func (b *NATSBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	if b.conn == nil {
		return nil
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	_ = b.conn.Drain()
	b.conn.Close()
	return nil
}
