package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "agent-relay").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Security creates a logger for authentication/authorization events
func Security() *zerolog.Logger { return component("security") }

// WebSocket creates a logger for socket lifecycle events
func WebSocket() *zerolog.Logger { return component("websocket") }

// Router creates a logger for message routing events
func Router() *zerolog.Logger { return component("router") }

// RateLimit creates a logger for rate-limiter events
func RateLimit() *zerolog.Logger { return component("ratelimit") }

// PubSub creates a logger for cross-instance bus events
func PubSub() *zerolog.Logger { return component("pubsub") }

// Admin creates a logger for the admin HTTP surface
func Admin() *zerolog.Logger { return component("admin") }

// HTTP creates a logger for general HTTP request events
func HTTP() *zerolog.Logger { return component("http") }
