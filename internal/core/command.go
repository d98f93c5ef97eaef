package core

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vovakirdan/relaychat/internal/errs"
)

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandConnect announces the identity behind a connection.
	CommandConnect CommandKind = iota
	// CommandSend relays a direct message to another user.
	CommandSend
	// CommandMarkRead acknowledges that a message was read.
	CommandMarkRead
	// CommandDisconnect ends the session.
	CommandDisconnect
)

func (k CommandKind) String() string {
	switch k {
	case CommandConnect:
		return "connect"
	case CommandSend:
		return "send"
	case CommandMarkRead:
		return "mark_read"
	case CommandDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ConnectPayload carries the trusted identity of a connection.
type ConnectPayload struct {
	UserID   string `json:"userId" validate:"required"`
	UserName string `json:"userName" validate:"required"`
}

// SendPayload carries a direct message. SenderID is optional and must match the session identity.
type SendPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required"`
}

// MarkReadPayload references a message by its store id.
type MarkReadPayload struct {
	MessageID int64 `json:"messageId" validate:"required,gt=0"`
}

// Command represents an action requested by a client.
// Exactly one payload is set, matching Kind.
type Command struct {
	Kind     CommandKind
	Connect  *ConnectPayload
	Send     *SendPayload
	MarkRead *MarkReadPayload
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks the payload before any state is touched.
func (c *Command) Validate() error {
	if c == nil {
		return errs.Required("command")
	}

	var payload any
	switch c.Kind {
	case CommandConnect:
		if c.Connect == nil {
			return errs.Required("data")
		}
		payload = c.Connect
	case CommandSend:
		if c.Send == nil {
			return errs.Required("data")
		}
		payload = c.Send
	case CommandMarkRead:
		if c.MarkRead == nil {
			return errs.Required("data")
		}
		payload = c.MarkRead
	case CommandDisconnect:
		return nil
	default:
		return &errs.ValidationError{Field: "type", Reason: "unknown command"}
	}

	return toValidationError(validate.Struct(payload))
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &errs.ValidationError{Field: "data", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	if fe.Tag() == "required" {
		return errs.Required(fe.Field())
	}
	return &errs.ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"}
}
