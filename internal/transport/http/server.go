package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/store"
)

// NewServer builds the HTTP server. The WebSocket endpoint is mounted on the
// plain mux; gin serves the health check and the read-only API.
func NewServer(hub *core.Hub, messages store.MessageStore, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	jwtCfg := JWTConfigFrom(cfg)

	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	api := NewAPIHandlers(hub, messages, logger)
	group := router.Group("/api", AuthMiddleware(jwtCfg, logger))
	group.GET("/users/online", api.OnlineUsers)
	group.GET("/messages/unread", api.Unread)
	group.GET("/messages/:id", api.GetMessage)
	group.GET("/conversations/:peer", api.Conversation)

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, jwtCfg, cfg, logger))
	mux.Handle("/", router)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// JWTConfigFrom extracts token settings; it returns nil when no secret is configured.
func JWTConfigFrom(cfg *config.Config) *auth.JWTConfig {
	if cfg.JWTSecret == "" {
		return nil
	}
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
