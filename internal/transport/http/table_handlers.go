package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/proto"
)

// TableHandlers exposes the channel table of the room.
type TableHandlers struct {
	coord *core.Coordinator
	log   *zerolog.Logger
}

// NewTableHandlers creates a new table handlers instance.
func NewTableHandlers(coord *core.Coordinator, logger *zerolog.Logger) *TableHandlers {
	return &TableHandlers{
		coord: coord,
		log:   logger,
	}
}

type tableParams struct {
	Count int `uri:"count"`
}

// Next reconciles the table for the requested channel count and returns it.
// GET /pulselist/:count/next
func (h *TableHandlers) Next(c *gin.Context) {
	var params tableParams
	if err := c.ShouldBindUri(&params); err != nil {
		h.log.Debug().Err(err).Str("count", c.Param("count")).Msg("invalid table request")
		c.JSON(http.StatusBadRequest, proto.Error{Error: errCountNotNumber})
		return
	}
	if err := core.ValidateCount(params.Count, h.coord.MaxChannels()); err != nil {
		c.JSON(http.StatusBadRequest, proto.Error{Error: err.Error()})
		return
	}

	table, err := h.coord.Snapshot(c.Request.Context(), params.Count)
	if err != nil {
		h.log.Error().Err(err).Int("count", params.Count).Msg("failed to snapshot channel table")
		c.JSON(http.StatusServiceUnavailable, proto.Error{Error: core.Code(err)})
		return
	}

	c.JSON(http.StatusOK, proto.TableResponse{PulseList: table})
}
