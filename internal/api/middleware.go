package api

import (
	"crypto/subtle"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZeroTricks/lumo-tamer-sub001/internal/apierror"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/logger"
	"github.com/ZeroTricks/lumo-tamer-sub001/internal/metrics"
)

// bearerAuthMiddleware validates the caller's Bearer token against the
// configured gateway API key, adapted from the teacher's
// internal/auth.APIKeyMiddleware — constant-time comparison, same
// Authorization-header parsing, same 401 on any mismatch.
func bearerAuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			apierror.AbortWithError(c, apierror.New(apierror.KindUnauthorized, "Authorization header is required", nil))
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			apierror.AbortWithError(c, apierror.New(apierror.KindUnauthorized, "Authorization header must be a Bearer token", nil))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			apierror.AbortWithError(c, apierror.New(apierror.KindUnauthorized, "invalid API key", nil))
			return
		}
		c.Next()
	}
}

// requestLoggingMiddleware logs request start/completion and records the
// route's request-count and latency metrics, following the teacher's
// pkg/logger.RequestLoggingMiddleware shape.
func requestLoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.Request.Header.Get("x-request-id")
		if requestID == "" {
			requestID = logger.GenerateRequestID()
		}
		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		reqLog := log.WithContext(ctx).WithComponent("http")
		reqLog.Info("request started", slog.String("method", c.Request.Method), slog.String("path", c.Request.URL.Path))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		duration := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, statusLabel(status)).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())

		reqLog.Info("request completed", slog.Int("status", status), slog.Duration("duration", duration))
	}
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
