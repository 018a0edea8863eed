package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/CodeRoom/internal/adapters/ws"
	"github.com/dkeye/CodeRoom/internal/broker"
	"github.com/dkeye/CodeRoom/internal/config"
	"github.com/dkeye/CodeRoom/internal/core"
	"github.com/dkeye/CodeRoom/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a stable token, useful
// for correlating reconnects in the logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, b *broker.Broker, ctl *ws.Controller, programs core.ProgramStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CodeRoomSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/hello", func(c *gin.Context) {
		c.String(http.StatusOK, "Hello world!")
	})

	r.GET("/ws/user/:user_id/room/:room_id", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Str("room", c.Param("room_id")).Msg("ws endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		rooms, err := b.Rooms(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broker unavailable"})
			return
		}
		c.JSON(http.StatusOK, rooms)
	})

	api.GET("/rooms/:room_id/programs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		history, err := programs.ByRoom(c.Request.Context(), domain.RoomName(c.Param("room_id")), limit)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("program history read")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}
		if history == nil {
			history = []domain.Program{}
		}
		c.JSON(http.StatusOK, history)
	})

	return r
}
