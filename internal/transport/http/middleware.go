package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/auth"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/proto"
)

const adminRealm = `Basic realm="pulse", charset="UTF-8"`

// AdminMiddleware guards a route with HTTP basic auth against the shared admin credential.
func AdminMiddleware(admin *auth.Admin, logger *zerolog.Logger) gin.HandlerFunc {
	if !admin.Enabled() {
		logger.Warn().Msg("admin credential not configured, admin routes will reject every request")
	}

	return func(c *gin.Context) {
		user, password, ok := c.Request.BasicAuth()
		if !ok {
			logger.Debug().Msg("missing basic auth")
			unauthorized(c)
			return
		}

		if err := admin.Verify(user, password); err != nil {
			logger.Warn().Err(err).Str("user", user).Str("client_ip", c.ClientIP()).Msg("admin auth failed")
			unauthorized(c)
			return
		}

		c.Next()
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", adminRealm)
	c.AbortWithStatusJSON(http.StatusUnauthorized, proto.Error{Error: core.ErrCodeUnauthorized})
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}
