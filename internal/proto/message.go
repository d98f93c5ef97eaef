package proto

import (
	"encoding/json"

	"github.com/vovakirdan/relaychat/internal/store"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeUserConnected  = "user_connected"
	InboundTypePrivateMessage = "private_message"
	InboundTypeMarkAsRead     = "mark_as_read"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventUsersOnlineName = "users_online"
	EventNewMessageName  = "new_message"
	EventMessageReadName = "message_read"
	EventMessageSentName = "message_sent"
)

// UserConnectedData announces the identity behind a connection.
// Protocol is optional; a non-zero value must equal ProtocolVersion.
type UserConnectedData struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Protocol int    `json:"protocol,omitempty"`
}

// PrivateMessageData is a direct message from the client.
// SenderID is optional; when present it must match the announced identity.
type PrivateMessageData struct {
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkAsReadData acknowledges a received message.
type MarkAsReadData struct {
	MessageID int64 `json:"messageId"`
}

// UnmarshalJSON accepts both {"messageId": 7} and a bare 7.
func (d *MarkAsReadData) UnmarshalJSON(b []byte) error {
	var id int64
	if err := json.Unmarshal(b, &id); err == nil {
		d.MessageID = id
		return nil
	}
	type plain MarkAsReadData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = MarkAsReadData(p)
	return nil
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// OnlineUser is one entry of the users_online list.
type OnlineUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// EventUsersOnline is the full presence snapshot in first-connect order.
type EventUsersOnline []OnlineUser

// EventNewMessage is delivered to the receiver of a direct message.
type EventNewMessage struct {
	Message *store.Message `json:"message"`
	Sender  string         `json:"sender"`
}

// EventMessageRead tells the original sender a message was read.
type EventMessageRead struct {
	MessageID int64 `json:"messageId"`
}

// EventMessageSent confirms a persisted message to its sender.
type EventMessageSent struct {
	Message *store.Message `json:"message"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
