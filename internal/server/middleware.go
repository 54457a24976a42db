// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ============================================================================
// Recovery Middleware
// ============================================================================

// recovery returns middleware that turns a handler panic into a 500 and
// logs the stack trace.
func recovery(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(logrus.Fields{
					"event":  "PANIC_RECOVERED",
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"error":  err,
				}).Error(string(debug.Stack()))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

// ============================================================================
// Request Logging Middleware
// ============================================================================

// requestLogger logs method, path, status and duration of every request.
func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"event":    "HTTP_REQUEST",
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond),
			"ip":       c.ClientIP(),
		}).Debug("request")
	}
}

// ============================================================================
// Body Limit Middleware
// ============================================================================

// bodyLimit caps the request body.
func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

// ============================================================================
// Rate Limiter
// ============================================================================

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	return lim
}

// rateLimit returns 429 Too Many Requests once a client IP runs out of
// tokens. The socket endpoint is exempt.
func rateLimit(l *ipLimiter, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/socket.io/" {
			c.Next()
			return
		}
		ip := c.ClientIP()
		c.Header("X-RateLimit-Limit", strconv.FormatFloat(float64(l.limit), 'f', -1, 64))
		if !l.get(ip).Allow() {
			log.WithFields(logrus.Fields{
				"event": "RATE_LIMIT_EXCEEDED",
				"ip":    ip,
			}).Warn("request rejected")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"message": "Too Many Requests"})
			return
		}
		c.Next()
	}
}
