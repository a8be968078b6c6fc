package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestConnectFreshTableAssignsChannelOne(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	conn, assignment, err := coord.Connect(context.Background(), "p1", 8)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if assignment.AssignedChannel != 1 || assignment.ParticipantCount != 1 {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}
	if conn.Channel != 1 || conn.Participant != "p1" {
		t.Fatalf("unexpected conn: %+v", conn)
	}

	want := Reconcile(ChannelTable{1: {"p1"}}, 8)
	if got := st.table("test"); !got.Equal(want) {
		t.Fatalf("table = %v, want %v", got, want)
	}

	f := mustFrame(t, conn)
	if f.AssignedChannel == nil || *f.AssignedChannel != 1 || f.ParticipantCount != 1 {
		t.Fatalf("unexpected assignment frame: %+v", f)
	}
}

func TestConnectPicksLowestLeastLoaded(t *testing.T) {
	st := newMemStore()
	st.set("test", ChannelTable{1: {"p1"}, 2: {}, 3: {}})
	coord, _ := startCoordinator(t, st)

	_, assignment, err := coord.Connect(context.Background(), "p2", 3)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if assignment.AssignedChannel != 2 {
		t.Fatalf("expected channel 2, got %d", assignment.AssignedChannel)
	}
	if got := st.table("test"); !got.Equal(ChannelTable{1: {"p1"}, 2: {"p2"}, 3: {}}) {
		t.Fatalf("unexpected table %v", got)
	}
}

func TestDisconnectRemovesParticipantAndNotifiesSurvivors(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	p1 := mustConnect(t, coord, "p1", 2)
	p2 := mustConnect(t, coord, "p2", 2)
	mustFrame(t, p1) // own assignment
	mustFrame(t, p1) // p2 joined
	mustFrame(t, p2) // own assignment

	if got := st.table("test"); !got.Equal(ChannelTable{1: {"p1"}, 2: {"p2"}}) {
		t.Fatalf("unexpected table before disconnect %v", got)
	}

	if err := coord.Disconnect(context.Background(), p1); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if got := st.table("test"); !got.Equal(ChannelTable{1: {}, 2: {"p2"}}) {
		t.Fatalf("unexpected table after disconnect %v", got)
	}
	f := mustFrame(t, p2)
	if f.AssignedChannel != nil || f.ParticipantCount != 1 {
		t.Fatalf("unexpected count frame: %+v", f)
	}

	// Disconnecting twice is a no-op.
	if err := coord.Disconnect(context.Background(), p1); err != nil {
		t.Fatalf("second disconnect: %v", err)
	}
	mustNoFrame(t, p2)
}

func TestNewcomerGetsReplyOthersGetOneBroadcast(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	a := mustConnect(t, coord, "a", 8)
	b := mustConnect(t, coord, "b", 8)
	mustFrame(t, a)
	mustFrame(t, a)
	mustFrame(t, b)

	c := mustConnect(t, coord, "c", 8)

	reply := mustFrame(t, c)
	if reply.AssignedChannel == nil || *reply.AssignedChannel != 3 || reply.ParticipantCount != 3 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	mustNoFrame(t, c)

	for _, conn := range []*Conn{a, b} {
		f := mustFrame(t, conn)
		if f.AssignedChannel != nil || f.ParticipantCount != 3 {
			t.Fatalf("unexpected broadcast for %s: %+v", conn.Participant, f)
		}
		mustNoFrame(t, conn)
	}
}

func TestResetClearsTableButKeepsConnections(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	old := mustConnect(t, coord, "old", 4)
	mustFrame(t, old)

	if err := coord.Reset(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := st.table("test"); len(got) != 0 {
		t.Fatalf("expected empty table after reset, got %v", got)
	}

	p := mustConnect(t, coord, "p", 4)
	if got := st.table("test"); !got.Equal(ChannelTable{1: {"p"}, 2: {}, 3: {}, 4: {}}) {
		t.Fatalf("unexpected table after reset and connect %v", got)
	}

	reply := mustFrame(t, p)
	if reply.ParticipantCount != 2 {
		t.Fatalf("old connection should still count, got %+v", reply)
	}
	if f := mustFrame(t, old); f.ParticipantCount != 2 {
		t.Fatalf("old connection should still receive broadcasts, got %+v", f)
	}
}

func TestConnectValidation(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	if _, _, err := coord.Connect(context.Background(), "p", 0); !errors.Is(err, ErrInvalidChannelCount) {
		t.Fatalf("expected ErrInvalidChannelCount, got %v", err)
	}
	if _, _, err := coord.Connect(context.Background(), "p", -3); !errors.Is(err, ErrInvalidChannelCount) {
		t.Fatalf("expected ErrInvalidChannelCount, got %v", err)
	}
	if _, _, err := coord.Connect(context.Background(), "", 4); !errors.Is(err, ErrEmptyParticipant) {
		t.Fatalf("expected ErrEmptyParticipant, got %v", err)
	}
	if st.saveCalls != 0 {
		t.Fatalf("validation failures must not touch storage, got %d saves", st.saveCalls)
	}
}

func TestConnectStorageFailureRegistersNothing(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	watcher := mustConnect(t, coord, "watcher", 2)
	mustFrame(t, watcher)

	st.setFailures(false, true)
	conn, _, err := coord.Connect(context.Background(), "p", 2)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if conn != nil {
		t.Fatal("no connection should be returned on storage failure")
	}

	count, err := coord.ParticipantCount(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected 1 participant, got %d (%v)", count, err)
	}
	mustNoFrame(t, watcher)
}

func TestDisconnectStorageFailureStillUpdatesCount(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	a := mustConnect(t, coord, "a", 2)
	b := mustConnect(t, coord, "b", 2)
	mustFrame(t, b)

	st.setFailures(true, false)
	err := coord.Disconnect(context.Background(), a)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}

	if f := mustFrame(t, b); f.ParticipantCount != 1 {
		t.Fatalf("survivor should see 1 participant, got %+v", f)
	}
	count, err := coord.ParticipantCount(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected 1 participant, got %d (%v)", count, err)
	}

	// The stored table drifts until the next successful mutation.
	if got := st.table("test"); !got.Equal(ChannelTable{1: {"a"}, 2: {"b"}}) {
		t.Fatalf("unexpected table %v", got)
	}
}

func TestSnapshotReconcilesAndPersists(t *testing.T) {
	st := newMemStore()
	st.set("test", ChannelTable{2: {"x"}})
	coord, _ := startCoordinator(t, st)

	table, err := coord.Snapshot(context.Background(), 3)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	want := ChannelTable{1: {}, 2: {"x"}, 3: {}}
	if !table.Equal(want) || !st.table("test").Equal(want) {
		t.Fatalf("unexpected snapshot %v / stored %v", table, st.table("test"))
	}

	if _, err := coord.Snapshot(context.Background(), 0); !errors.Is(err, ErrInvalidChannelCount) {
		t.Fatalf("expected ErrInvalidChannelCount, got %v", err)
	}
}

func TestConcurrentConnectsStayBalanced(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	const channels, listeners = 8, 40
	var wg sync.WaitGroup
	errs := make(chan error, listeners)
	for i := range listeners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := coord.Connect(context.Background(), fmt.Sprintf("p%d", i), channels); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("connect: %v", err)
	}

	table := st.table("test")
	if table.Total() != listeners {
		t.Fatalf("expected %d assignments, got %d", listeners, table.Total())
	}
	for ch := 1; ch <= channels; ch++ {
		if len(table[ch]) != listeners/channels {
			t.Fatalf("channel %d has %d listeners: %v", ch, len(table[ch]), table)
		}
	}
}

func TestRunExitReleasesConnections(t *testing.T) {
	st := newMemStore()
	coord, cancel := startCoordinator(t, st)

	a := mustConnect(t, coord, "a", 2)
	mustFrame(t, a)

	cancel()
	<-coord.done

	if _, open := <-a.Frames(); open {
		t.Fatal("frames should be closed after shutdown")
	}
	if got := st.table("test"); !got.Equal(ChannelTable{1: {}, 2: {}}) {
		t.Fatalf("live participants should be released at shutdown, got %v", got)
	}
	if _, _, err := coord.Connect(context.Background(), "late", 2); !errors.Is(err, ErrCoordinatorStopped) {
		t.Fatalf("expected ErrCoordinatorStopped, got %v", err)
	}
}

func TestCountAboveLimitTouchesNothing(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	limit := coord.MaxChannels()
	if _, _, err := coord.Connect(context.Background(), "p", limit+1); !errors.Is(err, ErrInvalidChannelCount) {
		t.Fatalf("expected ErrInvalidChannelCount, got %v", err)
	}
	if _, err := coord.Snapshot(context.Background(), 5_000_000); !errors.Is(err, ErrInvalidChannelCount) {
		t.Fatalf("expected ErrInvalidChannelCount, got %v", err)
	}
	if st.saveCalls != 0 {
		t.Fatalf("rejected counts must not touch storage, got %d saves", st.saveCalls)
	}

	conn := mustConnect(t, coord, "p", limit)
	if conn.Channel != 1 {
		t.Fatalf("expected channel 1, got %d", conn.Channel)
	}
	if got := len(st.table("test")); got != limit {
		t.Fatalf("expected %d stored channels, got %d", limit, got)
	}
}

func TestMaxChannelsDefaultsWhenUnset(t *testing.T) {
	coord := NewCoordinator(newMemStore(), Options{}, nil)
	if coord.MaxChannels() != DefaultOptions().MaxChannels {
		t.Fatalf("expected default max channels, got %d", coord.MaxChannels())
	}

	coord = NewCoordinator(newMemStore(), Options{MaxChannels: 4}, nil)
	if coord.MaxChannels() != 4 {
		t.Fatalf("expected 4, got %d", coord.MaxChannels())
	}
}

func TestDuplicateParticipantFirstCloseClearsEveryEntry(t *testing.T) {
	st := newMemStore()
	coord, _ := startCoordinator(t, st)

	first := mustConnect(t, coord, "p", 2)
	mustFrame(t, first)
	second := mustConnect(t, coord, "p", 2)
	if f := mustFrame(t, second); f.AssignedChannel == nil || *f.AssignedChannel != 2 || f.ParticipantCount != 2 {
		t.Fatalf("duplicate should be accepted on channel 2, got %+v", f)
	}
	if f := mustFrame(t, first); f.ParticipantCount != 2 {
		t.Fatalf("first conn should see the duplicate join, got %+v", f)
	}
	if got := st.table("test"); !got.Equal(ChannelTable{1: {"p"}, 2: {"p"}}) {
		t.Fatalf("unexpected table %v", got)
	}

	if err := coord.Disconnect(context.Background(), first); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if got := st.table("test"); !got.Equal(ChannelTable{1: {}, 2: {}}) {
		t.Fatalf("every entry for p should be removed, got %v", got)
	}
	count, err := coord.ParticipantCount(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected 1 live connection, got %d (%v)", count, err)
	}
	if f := mustFrame(t, second); f.ParticipantCount != 1 {
		t.Fatalf("remaining conn should see count 1, got %+v", f)
	}
}
