package http

import (
	"encoding/json"

	"github.com/samber/lo"

	"github.com/vovakirdan/relaychat/internal/auth"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/errs"
	"github.com/vovakirdan/relaychat/internal/proto"
)

// inboundToCommand decodes an envelope into a core command. Payload checks
// beyond decoding are left to the hub. claims is nil for unauthenticated connections.
func inboundToCommand(inbound proto.Inbound, claims *auth.Claims) (*core.Command, *core.CoreError) {
	switch inbound.Type {
	case proto.InboundTypeUserConnected:
		var data proto.UserConnectedData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
			return nil, &core.CoreError{Code: errs.CodeUnsupported, Message: "unsupported protocol version"}
		}
		if claims != nil {
			switch {
			case data.UserID == "":
				data.UserID = claims.UserID()
			case data.UserID != claims.UserID():
				return nil, &core.CoreError{Code: errs.CodeUnauthorized, Message: "userId does not match token subject"}
			}
			if data.UserName == "" {
				data.UserName = claims.Name
			}
		}
		return &core.Command{
			Kind:    core.CommandConnect,
			Connect: &core.ConnectPayload{UserID: data.UserID, UserName: data.UserName},
		}, nil
	case proto.InboundTypePrivateMessage:
		var data proto.PrivateMessageData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind: core.CommandSend,
			Send: &core.SendPayload{SenderID: data.SenderID, ReceiverID: data.ReceiverID, Content: data.Content},
		}, nil
	case proto.InboundTypeMarkAsRead:
		var data proto.MarkAsReadData
		if err := decodeData(inbound.Data, &data); err != nil {
			return nil, err
		}
		return &core.Command{
			Kind:     core.CommandMarkRead,
			MarkRead: &core.MarkReadPayload{MessageID: data.MessageID},
		}, nil
	default:
		return nil, &core.CoreError{Code: errs.CodeBadRequest, Message: "unknown message type"}
	}
}

func decodeData(raw json.RawMessage, v any) *core.CoreError {
	if len(raw) == 0 {
		return &core.CoreError{Code: errs.CodeValidation, Message: "data is required"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &core.CoreError{Code: errs.CodeBadRequest, Message: "malformed data"}
	}
	return nil
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventUsersOnline:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUsersOnlineName,
			Data:  onlineUsers(event.Users),
		}
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessageName,
			Data:  proto.EventNewMessage{Message: event.Message, Sender: event.Sender},
		}
	case core.EventMessageRead:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageReadName,
			Data:  proto.EventMessageRead{MessageID: event.MessageID},
		}
	case core.EventMessageSent:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageSentName,
			Data:  proto.EventMessageSent{Message: event.Message},
		}
	case core.EventError:
		if event.Error == nil {
			return errorOutbound(errs.CodeInternal, "unknown error")
		}
		return errorOutbound(event.Error.Code, event.Error.Message)
	default:
		return errorOutbound(errs.CodeInternal, "unknown event")
	}
}

func onlineUsers(users []core.OnlineUser) proto.EventUsersOnline {
	return lo.Map(users, func(u core.OnlineUser, _ int) proto.OnlineUser {
		return proto.OnlineUser{UserID: u.UserID, UserName: u.UserName}
	})
}

func errorOutbound(code, msg string) proto.Outbound {
	return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: code, Msg: msg}}
}
