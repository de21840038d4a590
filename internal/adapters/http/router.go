// Package http exposes the consultation API: room token issuance and
// verification, ICE server discovery, the signaling websocket, and
// Prometheus metrics.
package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/medibridge/teleconsult/internal/adapters/signal"
	"github.com/medibridge/teleconsult/internal/config"
	"github.com/medibridge/teleconsult/internal/metrics"
	"github.com/medibridge/teleconsult/internal/token"
)

// Deps bundles everything the router serves. All of it is injected;
// the router holds no state of its own.
type Deps struct {
	Tokens   *token.Service
	Revoked  token.RevocationList
	Signal   *signal.Controller
	Metrics  *metrics.Metrics
	Registry prometheus.Gatherer
	ICE      []string
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TeleconsultSession", store))
	r.Use(IdentityMiddleware(cfg.Secret))

	h := &Handlers{
		tokens:  deps.Tokens,
		revoked: deps.Revoked,
		metrics: deps.Metrics,
		ice:     deps.ICE,
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	api.POST("/room-token", h.IssueRoomToken)
	api.POST("/verify-room-token", h.VerifyRoomToken)
	api.GET("/ice-servers", h.ICEServers)
	api.POST("/rooms/:room/revoke", h.RevokeRoom)
	api.GET("/ws/signal", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	r.GET("/metrics", gin.WrapH(metrics.HandlerFor(deps.Registry)))

	return r
}
