package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/adapters/signal"
	"github.com/resona-audio/resona/internal/config"
	"github.com/resona-audio/resona/internal/domain"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware mints a stable per-browser token. That token is what
// the sync layer uses as the connection id.
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

func SetupRouter(ctx context.Context, cfg *config.Config, ctl *signal.SyncWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ResonaSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws sync endpoint hit")
		ctl.HandleSync(ctx, c)
	})

	api.GET("/sessions", func(c *gin.Context) {
		profile := domain.ProfileID(c.DefaultQuery("profile", "default"))
		c.JSON(http.StatusOK, gin.H{"sessions": ctl.Fanout.Sessions(c.Request.Context(), profile)})
	})

	api.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": ctl.Fanout.Registry().Connections()})
	})

	return r
}
