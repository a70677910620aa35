package protocol_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"textroom/internal/app/collab"
	"textroom/internal/app/ot"
	"textroom/internal/app/protocol"
	"textroom/internal/app/user"
	"textroom/internal/pkg/errs"
)

func eq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func mustEnv(t *testing.T, msgType, roomID, userID string, data any) protocol.Envelope {
	t.Helper()
	env, err := protocol.BuildMessage(msgType, roomID, userID, data)
	if err != nil {
		t.Fatalf("BuildMessage failed: %v", err)
	}
	return env
}

func newFixture(t *testing.T) (*protocol.Adapter, *collab.Coordinator) {
	t.Helper()
	c := collab.NewCoordinator(nil)
	t.Cleanup(func() { c.Shutdown(context.Background()) })

	if _, cerr := c.CreateRoom(context.Background(), "r1", "test room", "hello"); cerr != nil {
		t.Fatalf("create room failed: %v", cerr)
	}
	return protocol.NewAdapter(c), c
}

func decodeError(t *testing.T, env protocol.Envelope) int {
	t.Helper()
	eq(t, env.Type, protocol.TypeError)
	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("error payload did not decode: %v", err)
	}
	return payload.Code
}

func TestHandleJoinAndLeave(t *testing.T) {
	adapter, c := newFixture(t)

	out := adapter.HandleMessage(mustEnv(t, protocol.TypeJoin, "r1", "u1", user.New("u1", "Alice")))
	eq(t, len(out), 0)

	users, cerr := c.Users("r1")
	if cerr != nil {
		t.Fatalf("users failed: %v", cerr)
	}
	eq(t, len(users), 1)
	eq(t, users[0].DisplayName, "Alice")

	out = adapter.HandleMessage(protocol.Envelope{Type: protocol.TypeLeave, RoomID: "r1", UserID: "u1"})
	eq(t, len(out), 0)

	users, _ = c.Users("r1")
	eq(t, len(users), 0)
}

func TestHandleJoinUnknownRoom(t *testing.T) {
	adapter, _ := newFixture(t)

	out := adapter.HandleMessage(mustEnv(t, protocol.TypeJoin, "missing", "u1", user.New("u1", "Alice")))
	eq(t, len(out), 1)
	eq(t, decodeError(t, out[0]), errs.ErrRoomNotFound)
}

func TestHandleOperationAcks(t *testing.T) {
	adapter, c := newFixture(t)
	adapter.HandleMessage(mustEnv(t, protocol.TypeJoin, "r1", "u1", user.New("u1", "Alice")))

	op := ot.Operation{Type: ot.Insert, Position: 5, Content: " world"}
	out := adapter.HandleMessage(mustEnv(t, protocol.TypeOperation, "r1", "u1", op))
	eq(t, len(out), 1)
	eq(t, out[0].Type, protocol.TypeAck)
	eq(t, out[0].RoomID, "r1")
	eq(t, out[0].UserID, "u1")

	var accepted ot.Operation
	if err := json.Unmarshal(out[0].Data, &accepted); err != nil {
		t.Fatalf("ack payload did not decode: %v", err)
	}
	eq(t, accepted.Sequence, int64(1))
	eq(t, accepted.AuthorID, "u1")

	doc, _ := c.Document("r1")
	eq(t, doc, "hello world")
}

func TestHandleOperationAuthorFromEnvelope(t *testing.T) {
	adapter, c := newFixture(t)

	// A payload claiming another author is overridden by the envelope sender.
	op := ot.Operation{Type: ot.Insert, Position: 0, Content: "x", AuthorID: "impostor"}
	out := adapter.HandleMessage(mustEnv(t, protocol.TypeOperation, "r1", "u1", op))
	eq(t, len(out), 1)

	history, _ := c.History("r1")
	eq(t, len(history), 1)
	eq(t, history[0].AuthorID, "u1")
}

func TestHandleOperationInvalid(t *testing.T) {
	adapter, _ := newFixture(t)

	// Insert without content is structurally invalid.
	op := ot.Operation{Type: ot.Insert, Position: 0}
	out := adapter.HandleMessage(mustEnv(t, protocol.TypeOperation, "r1", "u1", op))
	eq(t, len(out), 1)
	eq(t, decodeError(t, out[0]), errs.ErrInvalidOperation)
}

func TestHandleMalformedPayload(t *testing.T) {
	adapter, _ := newFixture(t)

	env := protocol.Envelope{
		Type:   protocol.TypeOperation,
		RoomID: "r1",
		UserID: "u1",
		Data:   json.RawMessage(`{"type":"insert","position":0,"content":"x","bogus":true}`),
	}
	out := adapter.HandleMessage(env)
	eq(t, len(out), 1)
	eq(t, decodeError(t, out[0]), errs.ErrInvalidJSONFormat)
}

func TestHandleUnknownTypeDropped(t *testing.T) {
	adapter, _ := newFixture(t)

	out := adapter.HandleMessage(protocol.Envelope{Type: "shutdown", RoomID: "r1", UserID: "u1"})
	eq(t, len(out), 0)
}

func TestHandlePresence(t *testing.T) {
	adapter, c := newFixture(t)
	adapter.HandleMessage(mustEnv(t, protocol.TypeJoin, "r1", "u1", user.New("u1", "Alice")))

	p := collab.Presence{Cursor: &collab.CursorPosition{Line: 2, Column: 7}}
	out := adapter.HandleMessage(mustEnv(t, protocol.TypePresence, "r1", "u1", p))
	eq(t, len(out), 0)

	presences, cerr := c.Presences("r1")
	if cerr != nil {
		t.Fatalf("presences failed: %v", cerr)
	}
	eq(t, len(presences), 1)
	eq(t, presences[0].UserID, "u1")
	if presences[0].Cursor == nil {
		t.Fatal("cursor missing from presence snapshot")
	}
	eq(t, presences[0].Cursor.Line, 2)
	eq(t, presences[0].Cursor.Column, 7)
}

func TestBuildMessageNilData(t *testing.T) {
	env := mustEnv(t, protocol.TypeLeave, "r1", "u1", nil)
	if env.Data != nil {
		t.Fatalf("expected null data, got %s", env.Data)
	}
	if env.Timestamp == 0 {
		t.Fatal("timestamp not set")
	}
}

func TestFromEvent(t *testing.T) {
	now := time.Now()
	u := user.New("u1", "Alice")

	cases := []struct {
		name    string
		ev      collab.Event
		hasData bool
	}{
		{"join", collab.Event{Type: collab.EventJoin, RoomID: "r1", UserID: "u1", User: &u, Timestamp: now}, true},
		{"leave", collab.Event{Type: collab.EventLeave, RoomID: "r1", UserID: "u1", Timestamp: now}, false},
		{"operation", collab.Event{Type: collab.EventOperation, RoomID: "r1", UserID: "u1", Operation: &ot.Operation{Type: ot.Insert, Content: "x", Sequence: 3}, Timestamp: now}, true},
		{"presence", collab.Event{Type: collab.EventPresence, RoomID: "r1", UserID: "u1", Presence: &collab.Presence{UserID: "u1"}, Timestamp: now}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := protocol.FromEvent(tc.ev)
			if err != nil {
				t.Fatalf("FromEvent failed: %v", err)
			}
			eq(t, env.Type, string(tc.ev.Type))
			eq(t, env.RoomID, "r1")
			eq(t, env.UserID, "u1")
			eq(t, env.Timestamp, now.UnixMilli())
			eq(t, tc.hasData, env.Data != nil)
		})
	}

	if _, err := protocol.FromEvent(collab.Event{Type: "mystery"}); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}
