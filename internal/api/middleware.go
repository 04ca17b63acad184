// Package api wires up the Gin HTTP router onto the Handler layer: the
// public object surface (GET/PUT/DELETE/HEAD) and the internal peer RPC
// surface the Replicator, Read-Repair Engine, and directory-delete
// fan-out depend on.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Logger is a Gin middleware that logs every request as a structured
// zerolog event, adapted from the teacher's api.Logger (which used plain
// log.Printf) the way cuemby-warren logs request lifecycle events.
func Logger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request handled")
	}
}

// Recovery wraps Gin's default recovery, logging panics as structured
// zerolog events instead of the teacher's plain log.Printf.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("panic recovered")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
