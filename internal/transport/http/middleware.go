package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/errs"
)

const (
	// ContextKeyUserID is the context key for storing user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUserName is the context key for storing the display name.
	ContextKeyUserName = "user_name"

	// HeaderUserID names the caller when no JWT secret is configured.
	HeaderUserID = "X-User-ID"
)

// AuthMiddleware resolves the caller identity for API routes.
// With a JWT secret configured the identity comes from a verified token;
// otherwise it is taken from the X-User-ID header as-is.
func AuthMiddleware(jwtCfg *auth.JWTConfig, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !jwtCfg.Enabled() {
			userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
			if userID == "" {
				logger.Debug().Msg("missing user id header")
				abortUnauthorized(c, "missing "+HeaderUserID+" header")
				return
			}
			c.Set(ContextKeyUserID, userID)
			c.Next()
			return
		}

		token := requestToken(c.Request)
		if token == "" {
			logger.Debug().Msg("missing bearer token")
			abortUnauthorized(c, "missing authorization header")
			return
		}

		claims, err := auth.ValidateToken(jwtCfg, token)
		if err != nil {
			logger.Debug().Err(err).Msg("invalid token")
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID())
		c.Set(ContextKeyUserName, claims.Name)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Log after request
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

// requestToken extracts a bearer token from the Authorization header or the
// token query parameter. Browsers cannot set headers on WebSocket upgrades.
func requestToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: errs.CodeUnauthorized, Error: msg})
}

func callerID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
