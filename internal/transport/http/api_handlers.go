package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/store"
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	hub      *core.Hub
	messages store.MessageStore
	log      *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, messages store.MessageStore, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		hub:      hub,
		messages: messages,
		log:      logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// OnlineUsersResponse lists the users currently connected.
type OnlineUsersResponse struct {
	Users []proto.OnlineUser `json:"users"`
	Count int                `json:"count"`
}

// MessagesResponse is a page of messages.
type MessagesResponse struct {
	Messages []*store.Message `json:"messages"`
}

// OnlineUsers returns the presence snapshot.
// GET /api/users/online
func (h *APIHandlers) OnlineUsers(c *gin.Context) {
	users := onlineUsers(h.hub.Presence().Snapshot())
	c.JSON(http.StatusOK, OnlineUsersResponse{Users: users, Count: len(users)})
}

// GetMessage returns one message the caller sent or received.
// GET /api/messages/:id
func (h *APIHandlers) GetMessage(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: errs.CodeValidation, Error: "invalid message id"})
		return
	}

	msg, err := h.messages.GetMessage(c.Request.Context(), id)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}

	caller := callerID(c)
	if msg.Sender != caller && msg.Receiver != caller {
		// Do not reveal messages between other users.
		h.writeStoreError(c, &errs.NotFoundError{MessageID: id})
		return
	}
	c.JSON(http.StatusOK, msg)
}

// Conversation returns the history between the caller and a peer, newest first.
// GET /api/conversations/:peer?limit=&before=
func (h *APIHandlers) Conversation(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: errs.CodeValidation, Error: "invalid before"})
			return
		}
		before = &id
	}

	msgs, err := h.messages.ListConversation(c.Request.Context(), callerID(c), c.Param("peer"), int(limit), before)
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: nonNil(msgs)})
}

// Unread returns the caller's unread messages, oldest first.
// GET /api/messages/unread?limit=
func (h *APIHandlers) Unread(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}

	msgs, err := h.messages.ListUnread(c.Request.Context(), callerID(c), int(limit))
	if err != nil {
		h.writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Messages: nonNil(msgs)})
}

func (h *APIHandlers) writeStoreError(c *gin.Context, err error) {
	code := errs.Code(err)
	var nf *errs.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, ErrorResponse{Code: code, Error: err.Error()})
	case code == errs.CodeValidation:
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: code, Error: err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("store query failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: code, Error: "internal server error"})
	}
}

// queryInt parses an optional non-negative integer query parameter.
// On failure it writes a 400 response and returns false.
func queryInt(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: errs.CodeValidation, Error: "invalid " + name})
		return 0, false
	}
	return v, true
}

func nonNil(msgs []*store.Message) []*store.Message {
	return lo.Ternary(msgs == nil, []*store.Message{}, msgs)
}
