package http

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pulse-server/internal/auth"
	"github.com/vovakirdan/pulse-server/internal/config"
	"github.com/vovakirdan/pulse-server/internal/core"
	"github.com/vovakirdan/pulse-server/internal/store/sqlite"
)

const (
	testAdminUser     = "admin"
	testAdminPassword = "pulse"
	testMaxChannels   = 16
)

type testEnv struct {
	ts    *httptest.Server
	coord *core.Coordinator
	store core.TableStore
	room  string
}

// brokenStore fails every call.
type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (core.ChannelTable, error) {
	return nil, errors.New("disk on fire")
}

func (brokenStore) Save(context.Context, string, core.ChannelTable) error {
	return errors.New("disk on fire")
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return startTestServerWithStore(t, st)
}

func startTestServerWithStore(t *testing.T, st core.TableStore) *testEnv {
	t.Helper()

	disabledLogger := zerolog.New(nil).Level(zerolog.Disabled)
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.StorageTimeout = time.Second
	cfg.StorageRetries = 0
	cfg.MaxChannels = testMaxChannels

	coord := core.NewCoordinator(st, core.Options{
		Room:           cfg.Room,
		SendBuffer:     cfg.SendBuffer,
		StorageTimeout: cfg.StorageTimeout,
		StorageRetries: cfg.StorageRetries,
		MaxChannels:    cfg.MaxChannels,
	}, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	admin, err := auth.NewAdmin(testAdminUser, testAdminPassword, "")
	if err != nil {
		t.Fatalf("failed to create admin: %v", err)
	}

	server := NewServer(coord, admin, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{ts: ts, coord: coord, store: st, room: cfg.Room}
}

func (e *testEnv) wsURL(path string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + path
}

// listenerFrame is the union of every message a listener can receive.
type listenerFrame struct {
	AssignedChannel  *int `json:"assignedChannel"`
	ParticipantCount int  `json:"participantCount"`
}

func dialListener(t *testing.T, e *testEnv, count, id string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL("/ws/"+count+"/"+id), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", id, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) listenerFrame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var f listenerFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitForTable(t *testing.T, e *testEnv, want core.ChannelTable) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	var got core.ChannelTable
	for time.Now().Before(deadline) {
		var err error
		got, err = e.store.Load(context.Background(), e.room)
		if err == nil && got.Equal(want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("table = %v, want %v", got, want)
}
