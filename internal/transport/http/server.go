package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/auth"
	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
)

// NewServer builds the HTTP server exposing the listener and admin routes.
func NewServer(coord *core.Coordinator, admin *auth.Admin, cfg *config.Config, logger *zerolog.Logger) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	ws := NewWSHandler(coord, cfg, logger)
	router.GET("/ws/:count/:id", ws.Connect)

	adminHandlers := NewAdminHandlers(coord, logger)
	router.POST("/ws/clear", AdminMiddleware(admin, logger), adminHandlers.Reset)

	tableHandlers := NewTableHandlers(coord, logger)
	router.GET("/pulselist/:count/next", tableHandlers.Next)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
