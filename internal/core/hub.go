package core

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/store"
)

// MessageStore is the part of the durable store the hub writes through.
type MessageStore interface {
	CreateMessage(ctx context.Context, sender, receiver, content string) (*store.Message, error)
	MarkRead(ctx context.Context, id int64) (*store.Message, error)
}

// Hub is the relay engine. It applies client commands to the presence
// registry and the message store and decides what gets delivered where.
//
// Every attached connection receives presence broadcasts, identified or not.
type Hub struct {
	presence *Presence
	messages MessageStore
	log      *zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	// broadcastMu keeps snapshot order and delivery order the same for every client.
	broadcastMu sync.Mutex
}

// NewHub creates a relay engine. A nil presence registry gets a fresh one;
// a nil logger disables logging.
func NewHub(messages MessageStore, presence *Presence, logger *zerolog.Logger) *Hub {
	if presence == nil {
		presence = NewPresence()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		presence: presence,
		messages: messages,
		log:      logger,
		clients:  make(map[*Client]struct{}),
	}
}

// Presence exposes the registry for read-only callers such as the HTTP API.
func (h *Hub) Presence() *Presence {
	return h.presence
}

// Run blocks until ctx is cancelled, then tears the hub down.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.Close()
}

// Close detaches every connection and clears the presence registry.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := lo.Keys(h.clients)
	h.clients = make(map[*Client]struct{})
	// Cleared under the lock so a concurrent connect cannot land after it.
	h.presence.Clear()
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.log.Info().Int("connections", len(clients)).Msg("hub closed")
}

// RegisterClient attaches a new connection and returns its anonymous session.
func (h *Hub) RegisterClient(client *Client) *Session {
	session := &Session{client: client, state: SessionAnonymous}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		session.state = SessionClosed
		client.Close()
		return session
	}
	h.clients[client] = struct{}{}
	h.log.Debug().Str("client_id", client.ID).Int("connections", len(h.clients)).Msg("client registered")
	return session
}

// UnregisterClient tears a session down. It is unconditional and idempotent.
// The presence entry is only removed if it still points at this connection.
// Anonymous and stale disconnects leave the registry untouched, so no
// snapshot is broadcast for them.
func (h *Hub) UnregisterClient(session *Session) {
	if session.state == SessionClosed {
		return
	}
	prev := session.state
	session.state = SessionClosed

	h.mu.Lock()
	delete(h.clients, session.client)
	h.mu.Unlock()
	session.client.Close()

	if prev != SessionIdentified {
		h.log.Debug().Str("client_id", session.client.ID).Msg("anonymous client disconnected")
		return
	}

	if !h.presence.Disconnect(session.userID, session.client) {
		h.log.Debug().
			Str("client_id", session.client.ID).
			Str("user_id", session.userID).
			Msg("stale disconnect ignored, user reconnected elsewhere")
		return
	}

	h.log.Info().
		Str("user_id", session.userID).
		Str("user_name", session.userName).
		Int("online", h.presence.Len()).
		Msg("user disconnected")
	h.broadcastOnline()
}

// Handle applies one command for session. Commands of one session must be
// handled sequentially. Failures are logged and reported to the session's own
// connection; they never affect other connections. The error is returned for
// callers that want it.
func (h *Hub) Handle(ctx context.Context, session *Session, cmd *Command) error {
	if session.state == SessionClosed {
		return errs.ErrConnectionClosed
	}
	if err := cmd.Validate(); err != nil {
		h.reject(session, cmd, err)
		return err
	}

	var err error
	switch cmd.Kind {
	case CommandConnect:
		err = h.connect(session, cmd.Connect)
	case CommandSend:
		err = h.send(ctx, session, cmd.Send)
	case CommandMarkRead:
		err = h.markRead(ctx, session, cmd.MarkRead)
	case CommandDisconnect:
		h.UnregisterClient(session)
	}
	if err != nil && !errors.Is(err, errs.ErrConnectionClosed) {
		h.reject(session, cmd, err)
	}
	return err
}

func (h *Hub) connect(session *Session, p *ConnectPayload) error {
	if session.state == SessionIdentified && session.userID != p.UserID {
		// Re-announcing as someone else releases the previous identity.
		h.presence.Disconnect(session.userID, session.client)
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return errs.ErrConnectionClosed
	}
	replaced, err := h.presence.Connect(p.UserID, p.UserName, session.client)
	h.mu.RUnlock()
	if err != nil {
		return err
	}
	session.state = SessionIdentified
	session.userID = p.UserID
	session.userName = p.UserName

	if replaced != nil {
		h.log.Info().
			Str("user_id", p.UserID).
			Str("client_id", session.client.ID).
			Str("replaced_client_id", replaced.ID).
			Msg("newer connection replaced previous one")
	}
	h.log.Info().
		Str("user_id", p.UserID).
		Str("user_name", p.UserName).
		Int("online", h.presence.Len()).
		Msg("user connected")

	h.broadcastOnline()
	return nil
}

func (h *Hub) send(ctx context.Context, session *Session, p *SendPayload) error {
	if session.state != SessionIdentified {
		return errs.ErrNotIdentified
	}
	if p.SenderID != "" && p.SenderID != session.userID {
		return &errs.ValidationError{Field: "senderId", Reason: "does not match connected identity"}
	}

	msg, err := h.messages.CreateMessage(ctx, session.userID, p.ReceiverID, p.Content)
	if err != nil {
		return err
	}

	receiver, online := h.presence.Lookup(p.ReceiverID)
	if online {
		h.deliver(receiver, &Event{Kind: EventNewMessage, Message: msg, Sender: session.userID})
	} else {
		// No queueing: the receiver picks the message up from history.
		h.log.Debug().
			Int64("message_id", msg.ID).
			Str("receiver_id", p.ReceiverID).
			Msg("receiver offline, live delivery skipped")
	}
	h.deliver(session.client, &Event{Kind: EventMessageSent, Message: msg})
	return nil
}

func (h *Hub) markRead(ctx context.Context, session *Session, p *MarkReadPayload) error {
	if session.state != SessionIdentified {
		return errs.ErrNotIdentified
	}

	msg, err := h.messages.MarkRead(ctx, p.MessageID)
	if err != nil {
		return err
	}

	sender, online := h.presence.Lookup(msg.Sender)
	if !online {
		h.log.Debug().
			Int64("message_id", msg.ID).
			Str("sender_id", msg.Sender).
			Msg("sender offline, read receipt skipped")
		return nil
	}
	h.deliver(sender, &Event{Kind: EventMessageRead, MessageID: msg.ID})
	return nil
}

// broadcastOnline sends the presence snapshot to every attached connection.
func (h *Hub) broadcastOnline() {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	event := &Event{Kind: EventUsersOnline, Users: h.presence.Snapshot()}

	h.mu.RLock()
	targets := lo.Keys(h.clients)
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, event)
	}
}

// deliver is fire-and-forget; a failed delivery never unwinds the command that caused it.
func (h *Hub) deliver(client *Client, event *Event) {
	if err := client.Deliver(event); err != nil {
		h.log.Warn().
			Err(&errs.TransportError{ClientID: client.ID, Err: err}).
			Str("event", event.Kind.String()).
			Msg("delivery failed")
	}
}

func (h *Hub) reject(session *Session, cmd *Command, err error) {
	coreErr := toCoreError(err)
	kind := "unknown"
	if cmd != nil {
		kind = cmd.Kind.String()
	}

	logEvent := h.log.Warn()
	if coreErr.Code == errs.CodeStore || coreErr.Code == errs.CodeInternal {
		logEvent = h.log.Error()
	}
	logEvent.Err(err).
		Str("client_id", session.client.ID).
		Str("user_id", session.userID).
		Str("command", kind).
		Str("code", coreErr.Code).
		Msg("command dropped")

	h.deliver(session.client, &Event{Kind: EventError, Error: coreErr})
}
