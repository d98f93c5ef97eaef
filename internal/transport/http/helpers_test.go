package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/relaychat/internal/config"
	"github.com/vovakirdan/relaychat/internal/core"
	"github.com/vovakirdan/relaychat/internal/proto"
	"github.com/vovakirdan/relaychat/internal/store/sqlite"
)

type testServer struct {
	*httptest.Server
	hub   *core.Hub
	store *sqlite.SQLiteStore
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	disabledLogger := zerolog.Nop()
	hub := core.NewHub(st, nil, &disabledLogger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, hub: hub, store: st}
}

func (ts *testServer) wsURL() string {
	return strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
}

func dial(ctx context.Context, t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// envelope mirrors proto.Outbound with the payload left raw.
type envelope struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readEvent skips envelopes until one with the given event name arrives.
func readEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Type != proto.OutboundTypeEvent || env.Event != event {
			continue
		}
		if into != nil {
			if err := json.Unmarshal(env.Data, into); err != nil {
				t.Fatalf("unmarshal %s: %v", event, err)
			}
		}
		return
	}
}

// readUsersOnline waits for a snapshot containing exactly want, in order.
func readUsersOnline(ctx context.Context, t *testing.T, conn *websocket.Conn, want ...string) proto.EventUsersOnline {
	t.Helper()

	for {
		var users proto.EventUsersOnline
		readEvent(ctx, t, conn, proto.EventUsersOnlineName, &users)
		if len(users) != len(want) {
			continue
		}
		match := true
		for i, u := range users {
			if u.UserID != want[i] {
				match = false
				break
			}
		}
		if match {
			return users
		}
	}
}

func readError(ctx context.Context, t *testing.T, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			t.Fatalf("waiting for error: %v", err)
		}
		if env.Type == proto.OutboundTypeError {
			if env.Error == nil {
				t.Fatal("error envelope without error body")
			}
			return env.Error
		}
	}
}
