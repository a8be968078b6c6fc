package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/proto"
)

const (
	writeTimeout   = 10 * time.Second
	readLimitBytes = 4096
)

const errCountNotNumber = "count is not a number"

var errRateLimited = errors.New("inbound rate limit exceeded")

// WSHandler upgrades listener connections and bridges them to the coordinator.
type WSHandler struct {
	coord          *core.Coordinator
	log            *zerolog.Logger
	originPatterns []string
	rateLimit      int
	releaseTimeout time.Duration
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(coord *core.Coordinator, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	// Covers every storage attempt of a disconnect plus backoff.
	attempts := cfg.StorageRetries + 1
	release := time.Duration(attempts)*cfg.StorageTimeout + time.Duration(attempts*attempts)*cfg.StorageRetryBackoff
	if release <= 0 {
		release = writeTimeout
	}

	return &WSHandler{
		coord:          coord,
		log:            logger,
		originPatterns: cfg.AllowedOrigins,
		rateLimit:      cfg.InboundRateLimit,
		releaseTimeout: release,
	}
}

type connectParams struct {
	Count int    `uri:"count"`
	ID    string `uri:"id" binding:"required"`
}

// Connect assigns the listener to a channel and keeps the socket open until it closes.
// GET /ws/:count/:id
func (h *WSHandler) Connect(c *gin.Context) {
	var params connectParams
	if err := c.ShouldBindUri(&params); err != nil {
		h.log.Debug().Err(err).Str("count", c.Param("count")).Msg("invalid connect request")
		c.JSON(http.StatusBadRequest, proto.Error{Error: errCountNotNumber})
		return
	}
	if err := core.ValidateCount(params.Count, h.coord.MaxChannels()); err != nil {
		h.log.Debug().Int("count", params.Count).Msg("channel count out of range")
		c.JSON(http.StatusBadRequest, proto.Error{Error: err.Error()})
		return
	}

	if !strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		h.log.Debug().Str("upgrade", c.GetHeader("Upgrade")).Msg("missing websocket upgrade header")
		c.JSON(http.StatusBadRequest, proto.Error{Error: "Expected websocket"})
		return
	}

	conn, assignment, err := h.coord.Connect(c.Request.Context(), params.ID, params.Count)
	if err != nil {
		h.writeConnectError(c, err)
		return
	}

	ws, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.originPatterns) == 0,
		OriginPatterns:     h.originPatterns,
	})
	if err != nil {
		h.log.Error().Err(err).Str("participant", params.ID).Msg("ws accept error")
		h.release(c.Request.Context(), conn)
		return
	}
	ws.SetReadLimit(readLimitBytes)

	h.log.Debug().
		Str("participant", params.ID).
		Int("channel", assignment.AssignedChannel).
		Msg("ws connection accepted")

	h.serve(c.Request.Context(), ws, conn)
}

func (h *WSHandler) writeConnectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidChannelCount), errors.Is(err, core.ErrEmptyParticipant):
		c.JSON(http.StatusBadRequest, proto.Error{Error: err.Error()})
	case errors.Is(err, core.ErrStorageUnavailable), errors.Is(err, core.ErrCoordinatorStopped):
		h.log.Error().Err(err).Msg("connect failed")
		c.JSON(http.StatusServiceUnavailable, proto.Error{Error: core.Code(err)})
	case errors.Is(err, context.Canceled):
		h.log.Debug().Err(err).Msg("connect cancelled by client")
	default:
		h.log.Error().Err(err).Msg("connect failed")
		c.JSON(http.StatusInternalServerError, proto.Error{Error: "internal server error"})
	}
}

func (h *WSHandler) serve(ctx context.Context, ws *websocket.Conn, conn *core.Conn) {
	defer ws.Close(websocket.StatusInternalError, "internal error")
	defer h.release(ctx, conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, ws, conn)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, ws, conn)
	}()

	err := <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	switch {
	case err == nil:
		// Released by the coordinator at shutdown.
		status = websocket.StatusGoingAway
		reason = "server shutting down"
	case errors.Is(err, errRateLimited):
		status = websocket.StatusPolicyViolation
		reason = err.Error()
		h.log.Warn().Str("participant", conn.Participant).Msg("ws connection rate limited")
	case !errors.Is(err, context.Canceled):
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || status == websocket.StatusNoStatusRcvd {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("participant", conn.Participant).Msg("ws connection closed with error")
		}
	}

	ws.Close(status, reason)
}

// release disconnects conn from the coordinator on a context detached from the request.
func (h *WSHandler) release(ctx context.Context, conn *core.Conn) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.releaseTimeout)
	defer cancel()

	if err := h.coord.Disconnect(ctx, conn); err != nil {
		if errors.Is(err, core.ErrCoordinatorStopped) {
			h.log.Debug().Str("participant", conn.Participant).Msg("coordinator stopped before disconnect")
			return
		}
		h.log.Error().Err(err).Str("participant", conn.Participant).Msg("disconnect failed")
	}
}

// readLoop discards inbound frames; listeners are not expected to send any.
func (h *WSHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *core.Conn) error {
	limiter := newRateLimiter(h.rateLimit)
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return err
		}
		if !limiter.allow() {
			return errRateLimited
		}
		h.log.Debug().Str("participant", conn.Participant).Msg("ignoring inbound frame")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, ws *websocket.Conn, conn *core.Conn) error {
	for {
		select {
		case frame, ok := <-conn.Frames():
			if !ok {
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				h.log.Error().Err(err).Str("participant", conn.Participant).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
