package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

var errStoreDown = errors.New("store down")

// memStore is an in-memory TableStore with switchable failures.
type memStore struct {
	mu        sync.Mutex
	tables    map[string]ChannelTable
	failLoad  bool
	failSave  bool
	saveCalls int
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]ChannelTable)}
}

func (m *memStore) Load(_ context.Context, room string) (ChannelTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, errStoreDown
	}
	t, ok := m.tables[room]
	if !ok {
		return ChannelTable{}, nil
	}
	return t.Clone(), nil
}

func (m *memStore) Save(_ context.Context, room string, table ChannelTable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.failSave {
		return errStoreDown
	}
	m.tables[room] = table.Clone()
	return nil
}

func (m *memStore) table(room string) ChannelTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[room].Clone()
}

func (m *memStore) set(room string, t ChannelTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[room] = t.Clone()
}

func (m *memStore) setFailures(load, save bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad = load
	m.failSave = save
}

func startCoordinator(t *testing.T, st TableStore) (*Coordinator, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	coord := NewCoordinator(st, Options{
		Room:           "test",
		SendBuffer:     8,
		StorageTimeout: time.Second,
		StorageRetries: 1,
		RetryBackoff:   time.Millisecond,
	}, nil)
	go coord.Run(ctx)
	t.Cleanup(cancel)
	return coord, cancel
}

// frame is the union of every message a listener can receive.
type frame struct {
	AssignedChannel  *int `json:"assignedChannel"`
	ParticipantCount int  `json:"participantCount"`
}

func mustFrame(t *testing.T, c *Conn) frame {
	t.Helper()

	select {
	case raw, ok := <-c.Frames():
		if !ok {
			t.Fatalf("frames closed for %s", c.Participant)
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame %q: %v", raw, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("expected frame for %s not received", c.Participant)
	}
	return frame{}
}

func mustNoFrame(t *testing.T, c *Conn) {
	t.Helper()

	select {
	case raw, ok := <-c.Frames():
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.Participant, raw)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func mustConnect(t *testing.T, coord *Coordinator, participant string, count int) *Conn {
	t.Helper()

	conn, _, err := coord.Connect(context.Background(), participant, count)
	if err != nil {
		t.Fatalf("connect %s: %v", participant, err)
	}
	return conn
}
