package http

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceHub/internal/adapters/signal"
	"github.com/dkeye/VoiceHub/internal/app/orch"
	"github.com/dkeye/VoiceHub/internal/config"
	"github.com/dkeye/VoiceHub/internal/metrics"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable token kept in the
// cookie session. It only tags logs; it is not an identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// HealthFunc reports whether the store and cache are reachable.
type HealthFunc func(ctx context.Context) error

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, health HealthFunc) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(MetricsMiddleware())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("VoiceHubSessions", store))
	r.Use(ClientTokenMiddleware())

	h := &handlers{orch: o, health: health}
	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	authed := api.Group("", BearerAuth(o.Identity))
	authed.GET("/users/online", h.onlineUsers)
	authed.GET("/users/:id/rooms", h.userRooms)
	authed.GET("/rooms/:id/messages", h.roomMessages)
	authed.GET("/calls/active", h.activeCalls)
	authed.GET("/recordings", h.recordings)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
