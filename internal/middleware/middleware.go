package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/olyamironova/quote-engine/internal/logger"
	"github.com/olyamironova/quote-engine/internal/ratelimit"
)

const (
	RequestIDHeader = "X-Request-ID"
	ClientIDHeader  = "X-Client-ID"
)

// ClientIdentity keys the rate-limit window on the client address as gin
// resolves it from the trusted proxies. X-Client-ID is honoured only when
// trustHeader is set, i.e. an upstream gateway owns that header.
func ClientIdentity(c *gin.Context, trustHeader bool) string {
	if trustHeader {
		if id := c.GetHeader(ClientIDHeader); id != "" {
			return id
		}
	}
	return c.ClientIP()
}

// RateLimit admits a request only after the limiter has counted it. A cache
// outage denies the request with 500 rather than skipping the check.
func RateLimit(l *ratelimit.Limiter, trustHeader bool, log *logger.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ClientIdentity(c, trustHeader)
		d, err := l.Allow(c.Request.Context(), identity)
		if err != nil {
			log.WithComponent("rate_limiter").WithFields(logger.Fields{
				"client": identity,
			}).WithError(err).Error("rate limit check failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			log.WithComponent("rate_limiter").WithFields(logger.Fields{
				"client": identity,
				"count":  d.Count,
			}).Info("request rejected")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": ratelimit.RejectMessage})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger tags each request with an id and logs its outcome.
func RequestLogger(log *logger.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		entry := log.WithComponent("http").WithFields(logger.Fields{
			"request_id": id,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request served")
		}
	}
}
