package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/relaychat/internal/proto"
)

type envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run connects two users, relays one message and waits for its read receipt.
func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	alice, err := connect(ctx, *addr, "smoke-alice", "Alice")
	if err != nil {
		return err
	}
	defer alice.Close(websocket.StatusNormalClosure, "bye")

	bob, err := connect(ctx, *addr, "smoke-bob", "Bob")
	if err != nil {
		return err
	}
	defer bob.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, alice, proto.InboundTypePrivateMessage, proto.PrivateMessageData{
		ReceiverID: "smoke-bob",
		Content:    *text,
	}); err != nil {
		return err
	}

	var incoming proto.EventNewMessage
	if err := await(ctx, bob, proto.EventNewMessageName, &incoming); err != nil {
		return err
	}
	fmt.Printf("bob received message id=%d from=%s content=%q\n", incoming.Message.ID, incoming.Sender, incoming.Message.Content)

	if err := send(ctx, bob, proto.InboundTypeMarkAsRead, proto.MarkAsReadData{MessageID: incoming.Message.ID}); err != nil {
		return err
	}

	var receipt proto.EventMessageRead
	if err := await(ctx, alice, proto.EventMessageReadName, &receipt); err != nil {
		return err
	}
	fmt.Printf("alice received read receipt for id=%d\n", receipt.MessageID)
	return nil
}

func connect(ctx context.Context, addr, userID, userName string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", userID, err)
	}
	if err := send(ctx, conn, proto.InboundTypeUserConnected, proto.UserConnectedData{
		UserID:   userID,
		UserName: userName,
		Protocol: proto.ProtocolVersion,
	}); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}

	var users proto.EventUsersOnline
	if err := await(ctx, conn, proto.EventUsersOnlineName, &users); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, err
	}
	fmt.Printf("%s connected, %d online\n", userName, len(users))
	return conn, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// await reads until the named event arrives. Error envelopes abort the run.
func await(ctx context.Context, conn *websocket.Conn, event string, into any) error {
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if env.Type == proto.OutboundTypeError && env.Error != nil {
			return fmt.Errorf("server error %s: %s", env.Error.Code, env.Error.Msg)
		}
		if env.Event != event {
			continue
		}
		if err := json.Unmarshal(env.Data, into); err != nil {
			return fmt.Errorf("unmarshal %s: %w", event, err)
		}
		return nil
	}
}
