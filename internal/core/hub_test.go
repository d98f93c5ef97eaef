package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vovakirdan/relaychat/internal/errs"
)

func TestHubRelayScenario(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)

	alice := NewClient("a", 0)
	bob := NewClient("b", 0)
	sa := hub.RegisterClient(alice)
	sb := hub.RegisterClient(bob)

	connect(t, hub, sa, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob")

	// Both connections see every broadcast; the latest holds both users.
	for _, c := range []*Client{alice, bob} {
		online := eventsOfKind(drain(c.Events), EventUsersOnline)
		if len(online) != 2 {
			t.Fatalf("client %s: expected 2 users_online broadcasts, got %d", c.ID, len(online))
		}
		if got := userIDs(online[1].Users); fmt.Sprint(got) != "[u1 u2]" {
			t.Fatalf("client %s: unexpected snapshot %v", c.ID, got)
		}
	}

	if err := hub.Handle(ctx, sa, sendCmd("u2", "hi")); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgEv := mustEvent(t, bob.Events, EventNewMessage)
	if msgEv.Message.Content != "hi" || msgEv.Sender != "u1" || msgEv.Message.Receiver != "u2" {
		t.Fatalf("unexpected new_message: %+v", msgEv)
	}
	if msgEv.Message.ID == 0 || msgEv.Message.IsRead {
		t.Fatalf("message should be stored unread with an id: %+v", msgEv.Message)
	}
	sent := mustEvent(t, alice.Events, EventMessageSent)
	if sent.Message.ID != msgEv.Message.ID {
		t.Fatalf("sender confirmation references %d, want %d", sent.Message.ID, msgEv.Message.ID)
	}
	messageID := msgEv.Message.ID

	hub.UnregisterClient(sa)
	if sa.State() != SessionClosed {
		t.Fatalf("session should be closed, got %s", sa.State())
	}
	leftEv := mustEvent(t, bob.Events, EventUsersOnline)
	if got := userIDs(leftEv.Users); fmt.Sprint(got) != "[u2]" {
		t.Fatalf("snapshot after disconnect: %v", got)
	}

	if err := hub.Handle(ctx, sb, markReadCmd(messageID)); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if evs := drain(alice.Events); len(evs) != 0 {
		t.Fatalf("offline sender must not receive events, got %d", len(evs))
	}
	if evs := drain(bob.Events); len(evs) != 0 {
		t.Fatalf("reader should not receive events, got %+v", evs)
	}

	stored, err := st.GetMessage(ctx, messageID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if !stored.IsRead || stored.ReadAt == nil {
		t.Fatalf("message should be read: %+v", stored)
	}
}

func TestHubReadReceiptReachesOnlineSender(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(newTestStore(t), nil, nil)

	alice := NewClient("a", 0)
	bob := NewClient("b", 0)
	sa := hub.RegisterClient(alice)
	sb := hub.RegisterClient(bob)
	connect(t, hub, sa, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob")

	_ = hub.Handle(ctx, sa, sendCmd("u2", "ping"))
	msg := mustEvent(t, bob.Events, EventNewMessage).Message
	drain(alice.Events)

	if err := hub.Handle(ctx, sb, markReadCmd(msg.ID)); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	readEv := mustEvent(t, alice.Events, EventMessageRead)
	if readEv.MessageID != msg.ID {
		t.Fatalf("receipt for %d, want %d", readEv.MessageID, msg.ID)
	}

	// A second acknowledgement is idempotent and still succeeds.
	if err := hub.Handle(ctx, sb, markReadCmd(msg.ID)); err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	mustEvent(t, alice.Events, EventMessageRead)
}

func TestHubSendToOfflineReceiverPersists(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)

	alice := NewClient("a", 0)
	watcher := NewClient("w", 0)
	sa := hub.RegisterClient(alice)
	hub.RegisterClient(watcher)
	connect(t, hub, sa, "u1", "Alice")
	drain(alice.Events)
	drain(watcher.Events)

	if err := hub.Handle(ctx, sa, sendCmd("ghost", "anyone there?")); err != nil {
		t.Fatalf("send to offline receiver should succeed: %v", err)
	}

	if evs := eventsOfKind(drain(watcher.Events), EventNewMessage); len(evs) != 0 {
		t.Fatalf("no new_message should be emitted, got %d", len(evs))
	}
	if evs := eventsOfKind(drain(alice.Events), EventNewMessage); len(evs) != 0 {
		t.Fatalf("sender must not receive new_message, got %d", len(evs))
	}

	unread, err := st.ListUnread(ctx, "ghost", 10)
	if err != nil {
		t.Fatalf("list unread: %v", err)
	}
	if len(unread) != 1 || unread[0].Content != "anyone there?" {
		t.Fatalf("message should be persisted for the offline receiver: %+v", unread)
	}
}

func TestHubRejectsEmptyContentBeforeStoreWrite(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)

	alice := NewClient("a", 0)
	sa := hub.RegisterClient(alice)
	connect(t, hub, sa, "u1", "Alice")

	err := hub.Handle(ctx, sa, sendCmd("u2", ""))
	if errs.Code(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error.Code != errs.CodeValidation {
		t.Fatalf("unexpected error event: %+v", ev.Error)
	}
	if sa.State() != SessionIdentified {
		t.Fatalf("connection state must be unaffected, got %s", sa.State())
	}

	msgs, err := st.ListConversation(ctx, "u1", "u2", 10, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("nothing should be stored, got %d messages", len(msgs))
	}
}

func TestHubInvalidConnectKeepsSessionAnonymous(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)

	err := hub.Handle(context.Background(), s, &Command{
		Kind:    CommandConnect,
		Connect: &ConnectPayload{UserID: "u1"},
	})
	if errs.Code(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if s.State() != SessionAnonymous {
		t.Fatalf("session should stay anonymous, got %s", s.State())
	}
	if hub.Presence().Len() != 0 {
		t.Fatalf("nothing should be registered")
	}
	if evs := eventsOfKind(drain(c.Events), EventUsersOnline); len(evs) != 0 {
		t.Fatalf("invalid connect must not broadcast")
	}
}

func TestHubCommandsRequireIdentity(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)

	for _, cmd := range []*Command{sendCmd("u2", "hi"), markReadCmd(1)} {
		err := hub.Handle(ctx, s, cmd)
		if errs.Code(err) != errs.CodeNotIdentified {
			t.Fatalf("%s: expected not_identified, got %v", cmd.Kind, err)
		}
		ev := mustEvent(t, c.Events, EventError)
		if ev.Error.Code != errs.CodeNotIdentified {
			t.Fatalf("unexpected error event: %+v", ev.Error)
		}
	}

	msgs, _ := st.ListUnread(ctx, "u2", 10)
	if len(msgs) != 0 {
		t.Fatalf("anonymous send must not be stored")
	}
}

func TestHubSenderMismatchRejected(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)
	connect(t, hub, s, "u1", "Alice")

	err := hub.Handle(context.Background(), s, &Command{
		Kind: CommandSend,
		Send: &SendPayload{SenderID: "u9", ReceiverID: "u2", Content: "spoof"},
	})
	if errs.Code(err) != errs.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHubMarkReadUnknownMessage(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)
	connect(t, hub, s, "u1", "Alice")

	err := hub.Handle(context.Background(), s, markReadCmd(777))
	if errs.Code(err) != errs.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
	ev := mustEvent(t, c.Events, EventError)
	if ev.Error.Code != errs.CodeNotFound {
		t.Fatalf("unexpected error event: %+v", ev.Error)
	}
	if s.State() != SessionIdentified {
		t.Fatalf("connection state must be unaffected")
	}
}

func TestHubLastConnectWinsAndStaleDisconnect(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(newTestStore(t), nil, nil)

	laptop := NewClient("laptop", 0)
	phone := NewClient("phone", 0)
	bob := NewClient("bob", 0)
	sl := hub.RegisterClient(laptop)
	sp := hub.RegisterClient(phone)
	sb := hub.RegisterClient(bob)

	connect(t, hub, sl, "u1", "Alice")
	connect(t, hub, sp, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob")

	if hub.Presence().Len() != 2 {
		t.Fatalf("expected 2 online users, got %d", hub.Presence().Len())
	}
	drain(bob.Events)

	// The laptop goes away after being superseded: presence is untouched, no broadcast.
	hub.UnregisterClient(sl)
	if got, ok := hub.Presence().Lookup("u1"); !ok || got != phone {
		t.Fatalf("u1 should still be online on the phone")
	}
	if evs := drain(bob.Events); len(evs) != 0 {
		t.Fatalf("stale disconnect must not broadcast, got %d events", len(evs))
	}

	_ = hub.Handle(ctx, sb, sendCmd("u1", "to the phone"))
	msg := mustEvent(t, phone.Events, EventNewMessage)
	if msg.Message.Content != "to the phone" {
		t.Fatalf("unexpected message: %+v", msg.Message)
	}
}

func TestHubReconnectAsDifferentUserReleasesOldIdentity(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)

	connect(t, hub, s, "u1", "Alice")
	connect(t, hub, s, "u2", "Alice2")

	if _, ok := hub.Presence().Lookup("u1"); ok {
		t.Fatalf("previous identity should be released")
	}
	if s.UserID() != "u2" || s.UserName() != "Alice2" {
		t.Fatalf("session identity not updated: %s/%s", s.UserID(), s.UserName())
	}
	last := eventsOfKind(drain(c.Events), EventUsersOnline)
	if got := userIDs(last[len(last)-1].Users); fmt.Sprint(got) != "[u2]" {
		t.Fatalf("unexpected snapshot: %v", got)
	}
}

func TestHubExplicitDisconnectCommand(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)
	c := NewClient("c", 0)
	s := hub.RegisterClient(c)
	connect(t, hub, s, "u1", "Alice")

	if err := hub.Handle(context.Background(), s, &Command{Kind: CommandDisconnect}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if s.State() != SessionClosed || hub.Presence().Len() != 0 {
		t.Fatalf("disconnect should close the session and clear presence")
	}
	if err := hub.Handle(context.Background(), s, sendCmd("u2", "late")); err == nil {
		t.Fatalf("closed session must reject commands")
	}
	// Unregistering again is a no-op.
	hub.UnregisterClient(s)
}

func TestHubSlowConsumerDoesNotUnwindSend(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)

	alice := NewClient("a", 8)
	bob := NewClient("b", 1)
	sa := hub.RegisterClient(alice)
	sb := hub.RegisterClient(bob)
	connect(t, hub, sa, "u1", "Alice")
	connect(t, hub, sb, "u2", "Bob") // bob's single slot is now full

	if err := hub.Handle(ctx, sa, sendCmd("u2", "dropped live, kept durable")); err != nil {
		t.Fatalf("send should succeed despite a full receiver buffer: %v", err)
	}

	unread, err := st.ListUnread(ctx, "u2", 10)
	if err != nil || len(unread) != 1 {
		t.Fatalf("message should be persisted: %v %+v", err, unread)
	}
}

func TestHubCloseClearsPresence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(newTestStore(t), nil, nil)

	c := NewClient("c", 0)
	s := hub.RegisterClient(c)
	connect(t, hub, s, "u1", "Alice")

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if hub.Presence().Len() != 0 {
		t.Fatalf("presence should be cleared on shutdown")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("clients should be closed on shutdown")
	}

	late := hub.RegisterClient(NewClient("late", 0))
	if late.State() != SessionClosed {
		t.Fatalf("registering after shutdown should yield a closed session")
	}
}

func TestHubAnonymousDisconnectSkipsBroadcast(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)

	watcher := NewClient("w", 0)
	sw := hub.RegisterClient(watcher)
	connect(t, hub, sw, "u1", "Alice")
	drain(watcher.Events)

	anon := hub.RegisterClient(NewClient("anon", 0))
	hub.UnregisterClient(anon)

	if got := eventsOfKind(drain(watcher.Events), EventUsersOnline); len(got) != 0 {
		t.Fatalf("anonymous disconnect should not broadcast, got %d snapshots", len(got))
	}
	if hub.Presence().Len() != 1 {
		t.Fatalf("registry changed on anonymous disconnect")
	}
}

func TestHubConnectAfterCloseIsRejected(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)

	c := NewClient("c", 0)
	s := hub.RegisterClient(c)
	hub.Close()

	err := hub.Handle(context.Background(), s, &Command{
		Kind:    CommandConnect,
		Connect: &ConnectPayload{UserID: "u1", UserName: "Alice"},
	})
	if !errors.Is(err, errs.ErrConnectionClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if n := hub.Presence().Len(); n != 0 {
		t.Fatalf("presence should stay empty after shutdown, got %d", n)
	}
	if s.State() == SessionIdentified {
		t.Fatalf("session must not become identified after shutdown")
	}
}

func TestHubCloseRacingConnectsLeavesNoPresence(t *testing.T) {
	hub := NewHub(newTestStore(t), nil, nil)

	const users = 20
	sessions := make([]*Session, users)
	for i := range users {
		sessions[i] = hub.RegisterClient(NewClient(fmt.Sprintf("c%d", i), 256))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			<-start
			userID := fmt.Sprintf("u%d", i)
			_ = hub.Handle(context.Background(), s, &Command{Kind: CommandConnect, Connect: &ConnectPayload{UserID: userID, UserName: userID}})
		}(i, s)
	}
	close(start)
	hub.Close()
	wg.Wait()

	if n := hub.Presence().Len(); n != 0 {
		t.Fatalf("registry has %d entries after shutdown", n)
	}
}

func TestHubConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hub := NewHub(st, nil, nil)

	const users = 10
	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := NewClient(fmt.Sprintf("c%d", i), 256)
			go func() {
				for {
					select {
					case <-c.Events:
					case <-c.Done():
						return
					}
				}
			}()
			s := hub.RegisterClient(c)
			userID := fmt.Sprintf("u%d", i)
			_ = hub.Handle(ctx, s, &Command{Kind: CommandConnect, Connect: &ConnectPayload{UserID: userID, UserName: userID}})
			for j := range 5 {
				_ = hub.Handle(ctx, s, sendCmd(fmt.Sprintf("u%d", (i+1)%users), fmt.Sprintf("m%d", j)))
			}
			hub.UnregisterClient(s)
		}(i)
	}
	wg.Wait()

	if hub.Presence().Len() != 0 {
		t.Fatalf("all users disconnected, registry has %d", hub.Presence().Len())
	}
	for i := range users {
		unread, err := st.ListUnread(ctx, fmt.Sprintf("u%d", i), 100)
		if err != nil {
			t.Fatalf("list unread: %v", err)
		}
		if len(unread) != 5 {
			t.Fatalf("u%d: expected 5 messages, got %d", i, len(unread))
		}
	}
}
