// Package httpmw provides the gin middleware chain applied to every REST
// handler: request logging, Prometheus timing, rate limiting, audit logging,
// and panic recovery. It is the HTTP analogue of a gRPC unary interceptor
// chain.
package httpmw

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"routeplan/pkg/audit"
	"routeplan/pkg/logger"
	"routeplan/pkg/metrics"
	"routeplan/pkg/ratelimit"
)

// Config configures the middleware chain built by Chain.
type Config struct {
	ServiceName  string
	RateLimiter  ratelimit.Limiter
	AuditLogger  audit.Logger
	AuditExclude map[string]bool
	KeyExtractor ratelimit.KeyExtractor
}

// Chain returns the ordered middleware set to register on the gin engine:
// recovery first (so every later middleware's panics are caught), then
// logging, metrics, rate limiting, and audit.
func Chain(cfg *Config) []gin.HandlerFunc {
	if cfg == nil {
		cfg = &Config{}
	}
	keyExtractor := cfg.KeyExtractor
	if keyExtractor == nil {
		keyExtractor = ratelimit.DefaultKeyExtractor
	}

	return []gin.HandlerFunc{
		Recovery(cfg.ServiceName),
		RequestLogger(),
		Metrics(),
		RateLimit(cfg.RateLimiter, keyExtractor),
		Audit(cfg.ServiceName, cfg.AuditLogger, cfg.AuditExclude),
	}
}

// Recovery converts a panic in any downstream handler into a 500 response
// instead of crashing the process.
func Recovery(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Log.Error("panic recovered",
					"service", serviceName,
					"route", c.FullPath(),
					"panic", r,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    "INTERNAL_ERROR",
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// RequestLogger logs one structured line per completed request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Log.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// Metrics records the request's duration and status in the global
// Prometheus metrics.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		m := metrics.Get()
		m.HTTPRequestsInFlight.Inc()
		start := time.Now()

		c.Next()

		m.HTTPRequestsInFlight.Dec()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, statusBucket(c.Writer.Status()), time.Since(start))
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "500"
	case status >= 400:
		return "400"
	case status >= 300:
		return "300"
	default:
		return "200"
	}
}

// RateLimit rejects requests once the caller's key has exceeded its quota.
// A nil limiter disables the middleware entirely.
func RateLimit(limiter ratelimit.Limiter, keyExtractor ratelimit.KeyExtractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		metadata := map[string]string{
			"x-forwarded-for": c.GetHeader("X-Forwarded-For"),
			"x-real-ip":       c.GetHeader("X-Real-IP"),
			"x-user-id":       c.GetHeader("X-User-Id"),
		}
		if metadata["x-real-ip"] == "" {
			metadata["x-real-ip"] = c.ClientIP()
		}

		key := keyExtractor(c.Request.Context(), c.FullPath(), metadata)
		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Log.Warn("rate limiter error, allowing request", "error", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "RATE_LIMIT_EXCEEDED",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// Audit records a best-effort audit entry for every non-excluded request.
// A nil logger disables the middleware entirely.
func Audit(serviceName string, auditLogger audit.Logger, exclude map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if auditLogger == nil {
			return
		}
		route := c.FullPath()
		if exclude[route] {
			return
		}

		outcome := audit.OutcomeSuccess
		if c.Writer.Status() >= 400 {
			outcome = audit.OutcomeFailure
		}

		entry := audit.NewEntry().
			Service(serviceName).
			Method(c.Request.Method + " " + route).
			Action(actionForMethod(c.Request.Method)).
			Outcome(outcome).
			Client(c.ClientIP(), c.Request.UserAgent()).
			Duration(time.Since(start)).
			Meta("status", c.Writer.Status()).
			Build()

		if userID := c.GetString("auth.subject"); userID != "" {
			entry.UserID = userID
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := auditLogger.Log(ctx, entry); err != nil {
			logger.Log.Warn("failed to log audit entry", "error", err)
		}
	}
}

func actionForMethod(method string) audit.Action {
	switch method {
	case http.MethodPost:
		return audit.ActionCreate
	case http.MethodPut, http.MethodPatch:
		return audit.ActionUpdate
	case http.MethodDelete:
		return audit.ActionDelete
	default:
		return audit.ActionRead
	}
}
