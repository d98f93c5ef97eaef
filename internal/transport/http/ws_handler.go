package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/proto"
)

var errMissingToken = errors.New("missing token")

// WSHandler upgrades HTTP connections and bridges them to the relay hub.
type WSHandler struct {
	hub *core.Hub
	jwt *auth.JWTConfig
	cfg *config.Config
	log *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, jwtCfg *auth.JWTConfig, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, jwt: jwtCfg, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	claims, err := h.authenticate(r)
	if err != nil {
		h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade rejected")
		stdhttp.Error(w, errs.CodeUnauthorized, stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.cfg.AllowedOrigins) == 0,
		OriginPatterns:     h.cfg.AllowedOrigins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := core.NewClient(uuid.NewString(), h.cfg.SendBuffer)
	session := h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(session)

	logger := h.log.With().Str("client_id", client.ID).Logger()
	logger.Debug().Str("remote", r.RemoteAddr).Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, conn, session, claims, &logger)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, &logger)
	}()
	go func() {
		errCh <- h.pingLoop(ctx, conn)
	}()

	err = <-errCh
	cancel() // stop the other goroutines
	<-errCh
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "connection error"
			logger.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	logger.Debug().Str("user_id", session.UserID()).Msg("ws disconnected")
	conn.Close(status, reason)
}

// authenticate verifies the upgrade request token, if any.
// It returns nil claims when authentication is not configured or the token is optional and absent.
func (h *WSHandler) authenticate(r *stdhttp.Request) (*auth.Claims, error) {
	if !h.jwt.Enabled() {
		return nil, nil
	}
	token := requestToken(r)
	if token == "" {
		if h.cfg.JWTRequired {
			return nil, errMissingToken
		}
		return nil, nil
	}
	return auth.ValidateToken(h.jwt, token)
}

// readLoop dispatches inbound commands to the hub one at a time, which keeps
// a connection's commands in arrival order.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *core.Session, claims *auth.Claims, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerMinute, time.Minute)
	client := session.Client()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.replyError(client, errs.CodeBadRequest, "expected text frame", logger)
			continue
		}
		if !limiter.allow() {
			h.replyError(client, errs.CodeRateLimited, "rate limit exceeded", logger)
			continue
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.replyError(client, errs.CodeBadRequest, "malformed envelope", logger)
			continue
		}

		cmd, protoErr := inboundToCommand(inbound, claims)
		if protoErr != nil {
			h.replyError(client, protoErr.Code, protoErr.Message, logger)
			continue
		}

		// Failures are reported to the client by the hub itself.
		if err := h.hub.Handle(ctx, session, cmd); errors.Is(err, errs.ErrConnectionClosed) {
			return nil
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Error().Err(err).Msg("write ws event")
				return err
			}
		case <-client.Done():
			// Closed by the hub, e.g. on shutdown. Flush what was queued before that.
			return h.flushPending(ctx, conn, client, logger)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flushPending writes events still buffered on a closed client without waiting for more.
func (h *WSHandler) flushPending(ctx context.Context, conn *websocket.Conn, client *core.Client, logger *zerolog.Logger) error {
	for {
		select {
		case event := <-client.Events:
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				logger.Debug().Err(err).Msg("flush ws event")
				return nil
			}
		default:
			return nil
		}
	}
}

// pingLoop fails when the peer stops answering pings within the timeout.
func (h *WSHandler) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	if h.cfg.PingInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.pingTimeout())
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (h *WSHandler) pingTimeout() time.Duration {
	if h.cfg.PingTimeout > 0 {
		return h.cfg.PingTimeout
	}
	return h.cfg.PingInterval
}

func (h *WSHandler) replyError(client *core.Client, code, msg string, logger *zerolog.Logger) {
	logger.Debug().Str("code", code).Msg(msg)
	if err := client.Deliver(&core.Event{Kind: core.EventError, Error: &core.CoreError{Code: code, Message: msg}}); err != nil {
		logger.Warn().Err(&errs.TransportError{ClientID: client.ID, Err: err}).Msg("delivery failed")
	}
}
