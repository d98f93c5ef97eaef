package core

import "github.com/vovakirdan/relaychat/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventUsersOnline carries the current presence snapshot to every connection.
	EventUsersOnline EventKind = iota
	// EventNewMessage delivers a direct message to its receiver.
	EventNewMessage
	// EventMessageRead tells a sender that the receiver read a message.
	EventMessageRead
	// EventMessageSent confirms to the sender that a message was stored.
	EventMessageSent
	// EventError notifies a client that its command was dropped.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUsersOnline:
		return "users_online"
	case EventNewMessage:
		return "new_message"
	case EventMessageRead:
		return "message_read"
	case EventMessageSent:
		return "message_sent"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// OnlineUser is one entry of a presence snapshot.
type OnlineUser struct {
	UserID   string
	UserName string
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Users     []OnlineUser   // EventUsersOnline
	Message   *store.Message // EventNewMessage, EventMessageSent
	Sender    string         // EventNewMessage
	MessageID int64          // EventMessageRead
	Error     *CoreError     // EventError
}
