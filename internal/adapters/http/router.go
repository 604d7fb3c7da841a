// Package http is the gin surface over the coordinator. Each client is
// identified by a token cookie; its Session lives in the app registry.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wisp-social/roomcore/internal/adapters/ws"
	"github.com/wisp-social/roomcore/internal/app"
	"github.com/wisp-social/roomcore/internal/config"
	"github.com/wisp-social/roomcore/internal/core"
)

// ClientTokenMiddleware pins a uuid cookie on every client; the token
// keys the session registry.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, reg *app.Registry, facade *core.Facade, repo *core.Repository) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("WispSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &Handlers{Registry: reg, Facade: facade, Repo: repo}
	gw := ws.NewGateway(repo)

	api := r.Group("/api")
	{
		api.POST("/profile", h.UpdateProfile)
		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms", h.CreateRoom)
		api.GET("/rooms/:id", h.GetRoom)
		api.POST("/rooms/:id/join", h.JoinRoom)
		api.POST("/rooms/:id/flags", h.SetFlags)
		api.POST("/quick-entry", h.QuickEntry)
		api.POST("/exit", h.SafeExit)
		api.GET("/ws/rooms/:id", func(c *gin.Context) {
			gw.HandleWatch(ctx, c)
		})
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
