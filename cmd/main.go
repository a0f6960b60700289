package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/cache"
	"github.com/streamspace/streamspace/api/internal/config"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/middleware"
	"github.com/streamspace/streamspace/api/internal/pubsub"
	"github.com/streamspace/streamspace/api/internal/ratelimit"
	"github.com/streamspace/streamspace/api/internal/websocket"
)

func main() {
	cfg, err := config.Load(os.Getenv("RELAY_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token verifier")
	}

	bus := pubsub.Connect(pubsub.Config{
		URL:      cfg.PubSub.URL,
		User:     cfg.PubSub.User,
		Password: cfg.PubSub.Password,
		Prefix:   cfg.PubSub.KeyPrefix,
	})
	defer bus.Close()

	limiter, inProcessGC := buildLimiter(cfg)

	wsCfg := websocket.Config{
		Path:             cfg.Path,
		MaxConnections:   cfg.MaxConnections,
		CORSOrigin:       cfg.CORSOrigin,
		AuthDeadline:     time.Duration(cfg.AuthDeadlineMs) * time.Millisecond,
		HeartbeatPeriod:  time.Duration(cfg.PingIntervalMs) * time.Millisecond,
		ResponseTimeout:  time.Duration(cfg.ResponseTimeoutMs) * time.Millisecond,
		PresenceCoalesce: time.Second,
	}

	server := websocket.NewServer(wsCfg, bus, verifier, limiter)
	admin := websocket.NewAdminSurface(server, bus)
	reaper := websocket.NewReaper(server.Table(), 2*wsCfg.ResponseTimeout)

	scheduler := cron.New()
	if inProcessGC != nil {
		if _, err := scheduler.AddFunc("@every "+middleware.BucketGCInterval.String(), inProcessGC.GC); err != nil {
			log.Warn().Err(err).Msg("failed to schedule rate-limit bucket GC")
		}
	}
	if _, err := scheduler.AddFunc("@every 30s", reaper.Sweep); err != nil {
		log.Warn().Err(err).Msg("failed to schedule idle-connection reaper")
	}
	scheduler.Start()
	defer scheduler.Stop()

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(gin.Recovery())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.DefaultSizeLimiter())
	router.Use(middleware.GzipWithExclusions(middleware.BestSpeed, []string{wsCfg.Path}))

	server.RegisterRoutes(router)

	adminGroup := router.Group("/", middleware.NewAuditLogger(false).Middleware())
	adminGroup.Use(middleware.AdminAuth(cfg.Admin.APIKeyHash))
	adminGroup.Use(middleware.RateLimit(limiter, ratelimit.ClassGeneralAPI, middleware.ByClientIP))
	admin.RegisterRoutes(adminGroup)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Str("path", wsCfg.Path).Msg("agent relay listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}

	server.Shutdown(30 * time.Second)
	log.Info().Msg("agent relay stopped")
}

// buildVerifier selects HS256 or RS256 based on the configured algorithm.
// RS256's signing material is a PEM-encoded public key; HS256's is the
// raw shared secret.
func buildVerifier(cfg config.AuthConfig) (*auth.TokenVerifier, error) {
	switch cfg.Algorithm {
	case string(auth.AlgorithmRS256):
		block, _ := pem.Decode([]byte(cfg.SigningMaterial))
		if block == nil {
			return nil, fmt.Errorf("AUTH_SIGNING_MATERIAL is not a valid PEM public key")
		}
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing RSA public key: %w", err)
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("signing material is not an RSA public key")
		}
		return auth.NewRSAVerifier(rsaPub, cfg.Issuer), nil
	default:
		if cfg.SigningMaterial == "" {
			return nil, fmt.Errorf("AUTH_SIGNING_MATERIAL must be set for HS256")
		}
		return auth.NewHMACVerifier(cfg.SigningMaterial, cfg.Issuer), nil
	}
}

// buildLimiter selects the Redis-backed shared rate limiter when caching is
// enabled, else falls back to the in-process backend. It also returns the
// in-process backend for cron-scheduled GC; that is nil when the shared
// backend is in use, since Redis key expiry already bounds its memory.
func buildLimiter(cfg config.Config) (*ratelimit.Limiter, *ratelimit.InProcess) {
	classes := ratelimit.ClassesFromConfig(
		classConfig(cfg.RateLimit.ConnectionAttempts),
		classConfig(cfg.RateLimit.AuthenticationAttempts),
		classConfig(cfg.RateLimit.GeneralAPI),
		classConfig(cfg.RateLimit.WebSocketMessages),
	)

	if !cfg.Cache.Enabled {
		inProcess := ratelimit.NewInProcess(classes)
		return ratelimit.New(inProcess), inProcess
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     cfg.Cache.Host,
		Port:     cfg.Cache.Port,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
		Enabled:  true,
	})
	if err != nil {
		logger.RateLimit().Warn().Err(err).Msg("shared rate-limit cache unreachable at startup, using in-process backend")
		inProcess := ratelimit.NewInProcess(classes)
		return ratelimit.New(inProcess), inProcess
	}

	shared := ratelimit.NewShared(redisCache.Client(), classes, cfg.PubSub.KeyPrefix)
	return ratelimit.New(shared), nil
}

func classConfig(c config.RateLimitClass) ratelimit.ClassConfig {
	return ratelimit.ClassConfig{
		PointsPerMinute: c.PointsPerMinute,
		BlockDuration:   time.Duration(c.BlockDurationMs) * time.Millisecond,
	}
}
