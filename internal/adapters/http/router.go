package http

import (
	"context"
	"time"

	"github.com/dkeye/AudioRooms/internal/adapters/events"
	"github.com/dkeye/AudioRooms/internal/config"
	"github.com/dkeye/AudioRooms/internal/core"
	"github.com/dkeye/AudioRooms/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// CallManager is what the HTTP API needs from the call manager.
type CallManager interface {
	State() core.State
	ActiveCall() (domain.CallID, bool)
	JoinCall(ctx context.Context, callID string) error
	LeaveCall(ctx context.Context) error
}

// ClientTokenMiddleware gives every client a stable id kept in the cookie
// session. The event stream uses it as the subscriber id.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get("ct").(string)
		if token == "" {
			token = uuid.NewString()
			s.Set("ct", token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, calls CallManager, hub *events.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("AudioRoomsSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{calls: calls, hub: hub, ctx: ctx, pingPeriod: cfg.PingPeriod}
	if h.pingPeriod <= 0 {
		h.pingPeriod = 54 * time.Second
	}

	api := r.Group("/api")
	api.GET("/state", h.state)
	api.POST("/call/join", h.join)
	api.POST("/call/leave", h.leave)
	api.GET("/ws/events", h.events)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
