package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkeye/AudioRooms/internal/adapters/events"
	"github.com/dkeye/AudioRooms/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	calls      CallManager
	hub        *events.Hub
	ctx        context.Context
	pingPeriod time.Duration
}

type StateResponse struct {
	State  string `json:"state"`
	CallID string `json:"call_id,omitempty"`
}

type JoinRequest struct {
	CallID string `json:"call_id"`
}

func (h *handlers) state(c *gin.Context) {
	resp := StateResponse{State: h.calls.State().String()}
	if id, ok := h.calls.ActiveCall(); ok {
		resp.CallID = string(id)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CallID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid call_id"})
		return
	}
	if err := h.calls.JoinCall(c.Request.Context(), req.CallID); err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("call_id", req.CallID).Msg("join")
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	h.state(c)
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.calls.LeaveCall(c.Request.Context()); err != nil {
		if !errors.Is(err, app.ErrNoActiveSession) {
			log.Error().Err(err).Str("module", "adapters.http").Msg("leave")
		}
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	h.state(c)
}

func statusOf(err error) int {
	var joinErr *app.JoinError
	var leaveErr *app.LeaveError
	switch {
	case errors.Is(err, app.ErrInvalidCallID):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotConnected),
		errors.Is(err, app.ErrAlreadyInCall),
		errors.Is(err, app.ErrNoActiveSession):
		return http.StatusConflict
	case errors.As(err, &joinErr), errors.As(err, &leaveErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// events streams manager events. The first frame is the current state.
func (h *handlers) events(c *gin.Context) {
	sid := c.GetString(clientTokenKey)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "adapters.http").Str("sid", sid).Msg("new events subscriber")

	conn := events.NewWSConnection(sid, ws)
	h.hub.Register(conn)
	if f, err := events.Encode(events.Message{Type: events.TypeState, State: h.calls.State().String()}); err == nil {
		_ = conn.TrySend(f)
	}

	ctx, cancel := context.WithCancel(h.ctx)
	go conn.WritePump(ctx, h.pingPeriod)
	go func() {
		defer cancel()
		defer h.hub.Unregister(conn)
		conn.ReadPump(h.pingPeriod)
	}()
}
