package collab_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"textroom/internal/app/collab"
	"textroom/internal/app/ot"
	"textroom/internal/app/store"
	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
)

func ok(t *testing.T, cerr *errs.CustomError) {
	t.Helper()
	if cerr != nil {
		t.Fatalf("unexpected error: %v", cerr)
	}
}

func wantCode(t *testing.T, cerr *errs.CustomError, code int) {
	t.Helper()
	if cerr == nil {
		t.Fatalf("expected error code %d, got nil", code)
	}
	if cerr.Code != code {
		t.Fatalf("expected error code %d, got %d (%s)", code, cerr.Code, cerr.Message)
	}
}

func eq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// memStore records snapshots in memory for lifecycle tests.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]store.Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]store.Snapshot)}
}

func (m *memStore) SaveRoom(_ context.Context, snap store.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	m.saves++
	return nil
}

func (m *memStore) LoadRoom(_ context.Context, id string) (store.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, found := m.snaps[id]
	if !found {
		return store.Snapshot{}, store.ErrRoomNotFound
	}
	return snap, nil
}

func newTestRoom(t *testing.T, c *collab.Coordinator, id, seed string) {
	t.Helper()
	_, cerr := c.CreateRoom(context.Background(), id, "test room", seed)
	ok(t, cerr)
}

func opIns(author string, pos int, content string, base int64) ot.Operation {
	return ot.Operation{Type: ot.Insert, Position: pos, Content: content, AuthorID: author, BaseSequence: base}
}

func opDel(author string, pos, length int, base int64) ot.Operation {
	return ot.Operation{Type: ot.Delete, Position: pos, Length: length, AuthorID: author, BaseSequence: base}
}

func TestRoomLifecycle(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "hello")

	_, cerr := c.CreateRoom(context.Background(), "r1", "dup", "")
	wantCode(t, cerr, errs.ErrRoomAlreadyExists)

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, doc, "hello")

	_, cerr = c.Document("missing")
	wantCode(t, cerr, errs.ErrRoomNotFound)

	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	users, cerr := c.Users("r1")
	ok(t, cerr)
	eq(t, len(users), 1)
	eq(t, users[0].ID, "u1")
	if users[0].Color == "" {
		t.Fatal("joined user was not assigned a color")
	}

	ok(t, c.LeaveRoom("r1", "u1"))
	users, cerr = c.Users("r1")
	ok(t, cerr)
	eq(t, len(users), 0)

	// Leaving again is a no-op, not an error.
	ok(t, c.LeaveRoom("r1", "u1"))

	wantCode(t, c.JoinRoom("missing", user.New("u1", "Alice")), errs.ErrRoomNotFound)
	wantCode(t, c.LeaveRoom("missing", "u1"), errs.ErrRoomNotFound)
}

func TestJoinRoomIdempotent(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")

	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	users, cerr := c.Users("r1")
	ok(t, cerr)
	eq(t, len(users), 1)
}

func TestApplyOperationAssignsSequences(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	first, cerr := c.ApplyOperation("r1", opIns("u1", 0, "hello", 0))
	ok(t, cerr)
	eq(t, first.Sequence, int64(1))

	second, cerr := c.ApplyOperation("r1", opIns("u1", 5, " world", first.Sequence))
	ok(t, cerr)
	eq(t, second.Sequence, int64(2))

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, doc, "hello world")
}

func TestApplyOperationRejectsInvalid(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "hello")

	// Structurally invalid: insert with no content.
	_, cerr := c.ApplyOperation("r1", ot.Operation{Type: ot.Insert, Position: 0, AuthorID: "u1"})
	wantCode(t, cerr, errs.ErrInvalidOperation)

	// Baseline ahead of history.
	_, cerr = c.ApplyOperation("r1", opIns("u1", 0, "x", 42))
	wantCode(t, cerr, errs.ErrInvalidOperation)

	// Unknown room.
	_, cerr = c.ApplyOperation("missing", opIns("u1", 0, "x", 0))
	wantCode(t, cerr, errs.ErrRoomNotFound)
}

func TestApplyOperationTransformsStaleBaseline(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "hello world")

	// Alice and Bob both edit against the seed document (baseline 0).
	_, cerr := c.ApplyOperation("r1", opIns("alice", 0, ">> ", 0))
	ok(t, cerr)

	// Bob deletes "world" at its original position; the server must shift it
	// past Alice's prefix before applying.
	transformed, cerr := c.ApplyOperation("r1", opDel("bob", 6, 5, 0))
	ok(t, cerr)
	eq(t, transformed.Position, 9)

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, doc, ">> hello ")
}

func TestApplyOperationClampsOutOfRange(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "abc")

	transformed, cerr := c.ApplyOperation("r1", opIns("u1", 100, "!", 0))
	ok(t, cerr)
	eq(t, transformed.Position, 3)

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, doc, "abc!")
}

func TestApplyOperationClampsToBaselineDocument(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "ab")

	// u2 appends while u1's delete is in flight. u1 issued the delete against
	// the two-byte seed, so its overlong range must be cut down to that
	// baseline before transformation, not against the grown document; clamping
	// late would let the stale range swallow u2's concurrent insert.
	_, cerr := c.ApplyOperation("r1", opIns("u2", 2, "cd", 0))
	ok(t, cerr)

	transformed, cerr := c.ApplyOperation("r1", opDel("u1", 0, 3, 0))
	ok(t, cerr)
	eq(t, transformed.Position, 0)
	eq(t, transformed.Length, 2)

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, doc, "cd")
}

func TestConcurrentApplySerializes(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")

	const writers = 8
	const opsPerWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			author := fmt.Sprintf("u%d", w)
			for i := 0; i < opsPerWriter; i++ {
				// Stale baseline on purpose: every op claims the empty
				// document, the coordinator transforms it forward.
				if _, cerr := c.ApplyOperation("r1", opIns(author, 0, "x", 0)); cerr != nil {
					t.Errorf("apply failed: %v", cerr)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	doc, cerr := c.Document("r1")
	ok(t, cerr)
	eq(t, len(doc), writers*opsPerWriter)

	snap, cerr := c.Snapshot("r1")
	ok(t, cerr)
	eq(t, len(snap.History), writers*opsPerWriter)

	// Sequence numbers must be dense and strictly increasing.
	for i, op := range snap.History {
		eq(t, op.Sequence, int64(i+1))
	}

	// Replaying the history over the seed must reproduce the document.
	replayed := snap.Seed
	for _, op := range snap.History {
		var err error
		replayed, err = ot.Apply(replayed, op)
		if err != nil {
			t.Fatalf("replay failed at sequence %d: %v", op.Sequence, err)
		}
	}
	eq(t, replayed, doc)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")

	events := make(chan collab.Event, 16)
	unsubscribe, cerr := c.Subscribe("r1", func(ev collab.Event) {
		events <- ev
	})
	ok(t, cerr)
	defer unsubscribe()

	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))
	_, cerr = c.ApplyOperation("r1", opIns("u1", 0, "hi", 0))
	ok(t, cerr)
	c.UpdatePresence("r1", collab.Presence{
		UserID: "u1",
		Cursor: &collab.CursorPosition{Line: 0, Column: 2},
	})
	ok(t, c.LeaveRoom("r1", "u1"))

	want := []collab.EventType{collab.EventJoin, collab.EventOperation, collab.EventPresence, collab.EventLeave}
	for _, wantType := range want {
		select {
		case ev := <-events:
			eq(t, ev.Type, wantType)
			eq(t, ev.RoomID, "r1")
			eq(t, ev.UserID, "u1")
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", wantType)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	events := make(chan collab.Event, 16)
	unsubscribe, cerr := c.Subscribe("r1", func(ev collab.Event) {
		events <- ev
	})
	ok(t, cerr)
	unsubscribe()

	_, cerr = c.ApplyOperation("r1", opIns("u1", 0, "hi", 0))
	ok(t, cerr)

	select {
	case ev := <-events:
		t.Fatalf("received %s event after unsubscribe", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	_, cerr := c.Subscribe("r1", func(collab.Event) {
		panic("misbehaving subscriber")
	})
	ok(t, cerr)

	events := make(chan collab.Event, 16)
	_, cerr = c.Subscribe("r1", func(ev collab.Event) {
		events <- ev
	})
	ok(t, cerr)

	for i := 0; i < 3; i++ {
		_, cerr = c.ApplyOperation("r1", opIns("u1", 0, "x", 0))
		ok(t, cerr)
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			eq(t, ev.Type, collab.EventOperation)
		case <-time.After(2 * time.Second):
			t.Fatal("healthy subscriber starved by panicking sibling")
		}
	}
}

func TestPresenceDroppedForNonMember(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")

	// Never errors; the update is logged and dropped.
	c.UpdatePresence("r1", collab.Presence{UserID: "stranger"})
	c.UpdatePresence("missing", collab.Presence{UserID: "stranger"})

	presences, cerr := c.Presences("r1")
	ok(t, cerr)
	eq(t, len(presences), 0)
}

func TestCleanupSweepsIdleRooms(t *testing.T) {
	st := newMemStore()
	c := collab.NewCoordinator(st)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "idle", "stale doc")
	newTestRoom(t, c, "busy", "")
	ok(t, c.JoinRoom("idle", user.New("u1", "Alice")))

	time.Sleep(20 * time.Millisecond)

	// Keep "busy" active past the cutoff.
	ok(t, c.JoinRoom("busy", user.New("u2", "Bob")))

	c.Cleanup(context.Background(), 10*time.Millisecond)

	if c.GetRoom("idle") != nil {
		t.Fatal("idle room survived cleanup")
	}
	if c.GetRoom("busy") == nil {
		t.Fatal("active room was destroyed by cleanup")
	}

	// The destroyed room left a final snapshot behind and can be restored.
	restored, cerr := c.RestoreRoom(context.Background(), "idle")
	ok(t, cerr)
	eq(t, restored.Document(), "stale doc")
}

func TestCleanupSweepsStalePresence(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	newTestRoom(t, c, "r1", "")
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))

	events := make(chan collab.Event, 16)
	_, cerr := c.Subscribe("r1", func(ev collab.Event) {
		if ev.Type == collab.EventLeave {
			events <- ev
		}
	})
	ok(t, cerr)

	time.Sleep(20 * time.Millisecond)

	// A fresh member keeps the room alive while Alice's presence is stale.
	ok(t, c.JoinRoom("r1", user.New("u2", "Bob")))

	c.Cleanup(context.Background(), 10*time.Millisecond)

	select {
	case ev := <-events:
		eq(t, ev.UserID, "u1")
	case <-time.After(2 * time.Second):
		t.Fatal("expected implicit leave for stale presence")
	}

	users, cerr := c.Users("r1")
	ok(t, cerr)
	eq(t, len(users), 1)
	eq(t, users[0].ID, "u2")
}

func TestRestoreRoom(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()

	first := collab.NewCoordinator(st)
	newTestRoom(t, first, "r1", "hello")
	_, cerr := first.ApplyOperation("r1", opIns("u1", 5, " world", 0))
	ok(t, cerr)
	first.Shutdown(ctx)

	second := collab.NewCoordinator(st)
	defer second.Shutdown(ctx)

	room, cerr := second.RestoreRoom(ctx, "r1")
	ok(t, cerr)
	eq(t, room.Document(), "hello world")
	eq(t, room.LastSequence(), int64(1))

	// Restoring again conflicts with the live instance.
	_, cerr = second.RestoreRoom(ctx, "r1")
	wantCode(t, cerr, errs.ErrRoomAlreadyExists)

	_, cerr = second.RestoreRoom(ctx, "never-existed")
	wantCode(t, cerr, errs.ErrRoomNotFound)
}

func TestEventTapObservesAllRooms(t *testing.T) {
	c := collab.NewCoordinator(nil)
	defer c.Shutdown(context.Background())

	events := make(chan collab.Event, 16)
	c.SetEventTap(func(ev collab.Event) {
		events <- ev
	})

	newTestRoom(t, c, "r1", "")
	newTestRoom(t, c, "r2", "")
	ok(t, c.JoinRoom("r1", user.New("u1", "Alice")))
	ok(t, c.JoinRoom("r2", user.New("u2", "Bob")))

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			eq(t, ev.Type, collab.EventJoin)
			seen[ev.RoomID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tapped events")
		}
	}
	if !seen["r1"] || !seen["r2"] {
		t.Fatalf("tap missed a room: %v", seen)
	}
}

// TestConvergenceThroughCoordinator replays the classic two-client diamond
// end to end: both clients edit the same baseline, submit in either order,
// and the server-transformed history must produce the same document.
func TestConvergenceThroughCoordinator(t *testing.T) {
	run := func(t *testing.T, first, second ot.Operation) string {
		t.Helper()
		c := collab.NewCoordinator(nil)
		defer c.Shutdown(context.Background())
		newTestRoom(t, c, "r1", "hello world")

		_, cerr := c.ApplyOperation("r1", first)
		ok(t, cerr)
		_, cerr = c.ApplyOperation("r1", second)
		ok(t, cerr)

		doc, cerr := c.Document("r1")
		ok(t, cerr)
		return doc
	}

	cases := []struct {
		name string
		a, b ot.Operation
	}{
		{"insert/insert", opIns("alice", 5, "!", 0), opIns("bob", 5, "?", 0)},
		{"insert/delete", opIns("alice", 0, ">> ", 0), opDel("bob", 6, 5, 0)},
		{"delete/delete overlap", opDel("alice", 2, 5, 0), opDel("bob", 4, 6, 0)},
		{"replace/insert", ot.Operation{Type: ot.Replace, Position: 6, Length: 5, Content: "folks", AuthorID: "alice"}, opIns("bob", 11, "!", 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eq(t, run(t, tc.a, tc.b), run(t, tc.b, tc.a))
		})
	}
}
