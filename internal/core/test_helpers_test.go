package core

import (
	"context"
	"testing"
	"time"

	"github.com/vovakirdan/relaychat/internal/store/sqlite"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// drain returns every event already queued on ch.
func drain(ch <-chan *Event) []*Event {
	var events []*Event
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOfKind(events []*Event, kind EventKind) []*Event {
	var out []*Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func connect(t *testing.T, hub *Hub, s *Session, userID, userName string) {
	t.Helper()

	err := hub.Handle(context.Background(), s, &Command{
		Kind:    CommandConnect,
		Connect: &ConnectPayload{UserID: userID, UserName: userName},
	})
	if err != nil {
		t.Fatalf("connect %s: %v", userID, err)
	}
}

func sendCmd(receiverID, content string) *Command {
	return &Command{Kind: CommandSend, Send: &SendPayload{ReceiverID: receiverID, Content: content}}
}

func markReadCmd(id int64) *Command {
	return &Command{Kind: CommandMarkRead, MarkRead: &MarkReadPayload{MessageID: id}}
}

func userIDs(users []OnlineUser) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	return ids
}
