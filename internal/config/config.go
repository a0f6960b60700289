// Package config loads relay configuration from environment variables,
// overlaying an optional YAML file for the larger structured blocks
// (rate limiting classes, pub/sub connection details, auth parameters).
//
// Environment variables always take precedence over the YAML file, so
// an operator can ship one config.yaml per environment and still patch
// individual values via the process environment without a redeploy.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitClass holds the tunables for one rate-limit bucket class.
type RateLimitClass struct {
	PointsPerMinute float64 `yaml:"points_per_minute"`
	BlockDurationMs int64   `yaml:"block_duration_ms"`
}

// RateLimitConfig groups all four bucket classes.
type RateLimitConfig struct {
	ConnectionAttempts    RateLimitClass `yaml:"connection_attempts"`
	AuthenticationAttempts RateLimitClass `yaml:"authentication_attempts"`
	GeneralAPI            RateLimitClass `yaml:"general_api"`
	WebSocketMessages     RateLimitClass `yaml:"websocket_messages"`
}

// PubSubConfig configures the cross-instance message bus.
type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	URL       string `yaml:"url"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AuthConfig configures the TokenVerifier.
type AuthConfig struct {
	Algorithm     string        `yaml:"algorithm"` // "HS256" or "RS256"
	SigningMaterial string      `yaml:"signing_material"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
}

// AdminConfig configures the operator-facing HTTP surface.
type AdminConfig struct {
	APIKeyHash string `yaml:"api_key_hash"` // bcrypt hash of the accepted operator key
}

// CacheConfig configures the Redis-backed shared rate-limit store.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the fully resolved relay configuration.
type Config struct {
	Path              string `yaml:"path"`
	ListenAddr        string `yaml:"listen_addr"`
	MaxConnections    int    `yaml:"max_connections"`
	PingIntervalMs    int64  `yaml:"ping_interval_ms"`
	PingTimeoutMs     int64  `yaml:"ping_timeout_ms"`
	UpgradeTimeoutMs  int64  `yaml:"upgrade_timeout_ms"`
	AuthDeadlineMs    int64  `yaml:"auth_deadline_ms"`
	ResponseTimeoutMs int64  `yaml:"response_timeout_ms"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	Auth      AuthConfig      `yaml:"auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Cache     CacheConfig     `yaml:"cache"`

	LogLevel   string `yaml:"log_level"`
	LogPretty  bool   `yaml:"log_pretty"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Default returns the configuration defaults described by the external
// interfaces section: a 30s authentication deadline, 30s heartbeat
// interval, and the four rate-limit classes' default caps.
func Default() Config {
	return Config{
		Path:              "/socket.io",
		ListenAddr:        ":8000",
		MaxConnections:    10000,
		PingIntervalMs:    30000,
		PingTimeoutMs:     10000,
		UpgradeTimeoutMs:  10000,
		AuthDeadlineMs:    30000,
		ResponseTimeoutMs: 10000,
		RateLimit: RateLimitConfig{
			ConnectionAttempts:     RateLimitClass{PointsPerMinute: 5, BlockDurationMs: 60000},
			AuthenticationAttempts: RateLimitClass{PointsPerMinute: 5, BlockDurationMs: 300000},
			GeneralAPI:             RateLimitClass{PointsPerMinute: 120, BlockDurationMs: 60000},
			WebSocketMessages:      RateLimitClass{PointsPerMinute: 60, BlockDurationMs: 30000},
		},
		PubSub: PubSubConfig{KeyPrefix: "relay"},
		Auth:   AuthConfig{Algorithm: "HS256", Issuer: "agent-relay"},
		Cache:  CacheConfig{Port: "6379"},
		LogLevel: "info",
	}
}

// Load builds a Config by starting from Default(), overlaying an
// optional YAML file (if yamlPath is non-empty and exists), and finally
// overlaying environment variables. Environment variables win.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config file %s: %w", yamlPath, err)
		}
	}

	cfg.Path = getEnv("RELAY_PATH", cfg.Path)
	cfg.ListenAddr = getEnv("RELAY_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MaxConnections = getEnvInt("RELAY_MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.PingIntervalMs = getEnvInt64("RELAY_PING_INTERVAL_MS", cfg.PingIntervalMs)
	cfg.PingTimeoutMs = getEnvInt64("RELAY_PING_TIMEOUT_MS", cfg.PingTimeoutMs)
	cfg.AuthDeadlineMs = getEnvInt64("RELAY_AUTH_DEADLINE_MS", cfg.AuthDeadlineMs)
	cfg.ResponseTimeoutMs = getEnvInt64("RELAY_RESPONSE_TIMEOUT_MS", cfg.ResponseTimeoutMs)

	cfg.PubSub.Enabled = getEnv("PUBSUB_ENABLED", boolStr(cfg.PubSub.Enabled)) == "true"
	cfg.PubSub.URL = getEnv("PUBSUB_URL", cfg.PubSub.URL)
	cfg.PubSub.User = getEnv("PUBSUB_USER", cfg.PubSub.User)
	cfg.PubSub.Password = getEnv("PUBSUB_PASSWORD", cfg.PubSub.Password)

	cfg.Cache.Enabled = getEnv("RATE_LIMIT_CACHE_ENABLED", boolStr(cfg.Cache.Enabled)) == "true"
	cfg.Cache.Host = getEnv("REDIS_HOST", cfg.Cache.Host)
	cfg.Cache.Port = getEnv("REDIS_PORT", cfg.Cache.Port)
	cfg.Cache.Password = getEnv("REDIS_PASSWORD", cfg.Cache.Password)

	cfg.Auth.SigningMaterial = getEnv("AUTH_SIGNING_MATERIAL", cfg.Auth.SigningMaterial)
	cfg.Auth.Algorithm = getEnv("AUTH_ALGORITHM", cfg.Auth.Algorithm)
	cfg.Auth.Issuer = getEnv("AUTH_ISSUER", cfg.Auth.Issuer)

	cfg.Admin.APIKeyHash = getEnv("RELAY_ADMIN_API_KEY_HASH", cfg.Admin.APIKeyHash)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogPretty = getEnv("LOG_PRETTY", boolStr(cfg.LogPretty)) == "true"
	cfg.CORSOrigin = getEnv("CORS_ORIGIN", cfg.CORSOrigin)

	return cfg, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
