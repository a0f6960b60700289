// Package middleware - auditlog.go
//
// Audit logging for the admin HTTP surface: records who issued which
// operator action (disconnect, message injection, broadcast injection)
// against the relay, for security review. Request bodies are redacted
// before logging so credentials and tokens never land in the log stream.
//
// Unlike a typical CRUD API, the relay has no relational database to
// persist these events to, so entries are written through the
// structured logger instead of an audit_log table — one zerolog event
// per admin request, still queryable via whatever log aggregation the
// deployment already has in place.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/streamspace/api/internal/logger"
)

// AuditEvent is the structured record of one admin-surface request.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Action      string                 `json:"action"`
	Resource    string                 `json:"resource"`
	StatusCode  int                    `json:"status_code"`
	IPAddress   string                 `json:"ip_address"`
	UserAgent   string                 `json:"user_agent"`
	Duration    int64                  `json:"duration_ms"`
	RequestBody map[string]interface{} `json:"request_body,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// AuditLogger records every request through the admin surface.
type AuditLogger struct {
	logRequestBody  bool
	sensitiveFields []string
}

// NewAuditLogger builds an AuditLogger. logBodies controls whether
// request bodies (redacted) are captured; leave false in production.
func NewAuditLogger(logBodies bool) *AuditLogger {
	return &AuditLogger{
		logRequestBody:  logBodies,
		sensitiveFields: []string{"password", "token", "secret", "apiKey", "api_key"},
	}
}

// redactSensitiveData replaces values of known-sensitive keys, recursing
// into nested objects. Arrays are not recursed into (a known limitation
// carried from the CRUD-style logger this was adapted from).
func (a *AuditLogger) redactSensitiveData(data map[string]interface{}) map[string]interface{} {
	redacted := make(map[string]interface{})
	for key, value := range data {
		isSensitive := false
		for _, field := range a.sensitiveFields {
			if key == field {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			redacted[key] = "[REDACTED]"
		} else if nested, ok := value.(map[string]interface{}); ok {
			redacted[key] = a.redactSensitiveData(nested)
		} else {
			redacted[key] = value
		}
	}
	return redacted
}

func (a *AuditLogger) logEvent(event *AuditEvent) {
	entry := logger.Admin().Info().
		Str("action", event.Action).
		Str("resource", event.Resource).
		Int("status", event.StatusCode).
		Str("ip", event.IPAddress).
		Str("userAgent", event.UserAgent).
		Int64("durationMs", event.Duration)
	if event.RequestBody != nil {
		if body, err := json.Marshal(event.RequestBody); err == nil {
			entry = entry.RawJSON("requestBody", body)
		}
	}
	if event.Error != "" {
		entry = entry.Str("error", event.Error)
	}
	entry.Msg("admin request")
}

// Middleware returns the Gin handler that captures and logs every
// request passing through the admin surface.
func (a *AuditLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		var requestBody map[string]interface{}
		if a.logRequestBody && c.Request.Body != nil {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

			if len(bodyBytes) > 0 && len(bodyBytes) < 10240 {
				json.Unmarshal(bodyBytes, &requestBody)
				requestBody = a.redactSensitiveData(requestBody)
			}
		}

		c.Next()

		event := &AuditEvent{
			Timestamp:   startTime,
			Action:      c.Request.Method,
			Resource:    c.Request.URL.Path,
			StatusCode:  c.Writer.Status(),
			IPAddress:   c.ClientIP(),
			UserAgent:   c.Request.UserAgent(),
			Duration:    time.Since(startTime).Milliseconds(),
			RequestBody: requestBody,
		}
		if len(c.Errors) > 0 {
			event.Error = c.Errors.String()
		}

		a.logEvent(event)
	}
}
