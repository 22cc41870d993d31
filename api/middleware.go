package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/NatureBlueee/Towow-sub000/logging"
)

// RateLimit allows each client IP perMinute requests per minute with the
// given burst.
func RateLimit(perMinute, burst int) (gin.HandlerFunc, error) {
	bucket, err := limiter.NewTokenBucket(
		limiter.Config{
			Rate:     int64(perMinute),
			Duration: time.Minute,
			Burst:    int64(burst),
		},
		store.NewMemoryStore(time.Minute),
	)
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}
	return func(c *gin.Context) {
		if !bucket.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}, nil
}

// RequestLogger logs every request through the shared logrus logger.
func RequestLogger() gin.HandlerFunc {
	log := logging.For("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
