package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/proto"
)

// AdminHandlers provides the privileged room operations.
type AdminHandlers struct {
	coord *core.Coordinator
	log   *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(coord *core.Coordinator, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		coord: coord,
		log:   logger,
	}
}

// Reset clears every channel assignment of the room. Open connections stay open.
// POST /ws/clear
func (h *AdminHandlers) Reset(c *gin.Context) {
	if err := h.coord.Reset(c.Request.Context()); err != nil {
		h.log.Error().Err(err).Str("room", h.coord.Room()).Msg("failed to reset channel table")
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrStorageUnavailable) || errors.Is(err, core.ErrCoordinatorStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, proto.Error{Error: core.Code(err)})
		return
	}

	h.log.Info().Str("room", h.coord.Room()).Msg("channel table reset by admin")
	c.JSON(http.StatusOK, proto.ResetAck{Done: true})
}
