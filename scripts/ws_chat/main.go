package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

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
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "cli-user", "user id")
	name := flag.String("name", "", "display name (defaults to the user id)")
	to := flag.String("to", "", "default receiver; lines starting with @peer override it")
	token := flag.String("token", "", "bearer token, when the server requires one")
	flag.Parse()

	if *name == "" {
		*name = *user
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	target := *addr
	if *token != "" {
		target += "?token=" + url.QueryEscape(*token)
	}

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.InboundTypeUserConnected, proto.UserConnectedData{UserID: *user, UserName: *name}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s (%s)\n", *addr, *name, *user)
	fmt.Println("Type messages and press Enter to send; prefix with @peer to pick a receiver. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, conn, *to)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
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

// readLoop prints events and acknowledges every received message.
func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		if env.Type == proto.OutboundTypeError && env.Error != nil {
			fmt.Printf("! %s: %s\n", env.Error.Code, env.Error.Msg)
			continue
		}

		switch env.Event {
		case proto.EventUsersOnlineName:
			var users proto.EventUsersOnline
			if err := json.Unmarshal(env.Data, &users); err != nil {
				log.Printf("unmarshal users_online: %v", err)
				continue
			}
			names := make([]string, 0, len(users))
			for _, u := range users {
				names = append(names, fmt.Sprintf("%s(%s)", u.UserName, u.UserID))
			}
			fmt.Printf("* online: %s\n", strings.Join(names, ", "))
		case proto.EventNewMessageName:
			var evt proto.EventNewMessage
			if err := json.Unmarshal(env.Data, &evt); err != nil || evt.Message == nil {
				log.Printf("unmarshal new_message: %v", err)
				continue
			}
			fmt.Printf("[%s] %s\n", evt.Sender, evt.Message.Content)
			if err := send(ctx, conn, proto.InboundTypeMarkAsRead, proto.MarkAsReadData{MessageID: evt.Message.ID}); err != nil {
				log.Printf("ack: %v", err)
			}
		case proto.EventMessageSentName:
			var evt proto.EventMessageSent
			if err := json.Unmarshal(env.Data, &evt); err == nil && evt.Message != nil {
				fmt.Printf("  sent #%d\n", evt.Message.ID)
			}
		case proto.EventMessageReadName:
			var evt proto.EventMessageRead
			if err := json.Unmarshal(env.Data, &evt); err == nil {
				fmt.Printf("  read #%d\n", evt.MessageID)
			}
		default:
			fmt.Printf("event=%s data=%s\n", env.Event, env.Data)
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, defaultPeer string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			peer := defaultPeer
			if strings.HasPrefix(text, "@") {
				head, rest, _ := strings.Cut(text[1:], " ")
				peer, text = head, strings.TrimSpace(rest)
			}
			if peer == "" || text == "" {
				fmt.Println("usage: @peer message (or start with -to)")
				continue
			}

			if err := send(ctx, conn, proto.InboundTypePrivateMessage, proto.PrivateMessageData{ReceiverID: peer, Content: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
