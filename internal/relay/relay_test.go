package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mira/avatar-relay/internal/protocol"
)

// fakeTransport implements room.Sender and records every event delivered to
// each connection, decoded back into its envelope form.
type fakeTransport struct {
	mu       sync.Mutex
	received map[string][]map[string]interface{}
	closed   map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		received: make(map[string][]map[string]interface{}),
		closed:   make(map[string]bool),
	}
}

func (f *fakeTransport) Send(connID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed[connID] {
		return errors.New("connection closed")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.received[connID] = append(f.received[connID], m)
	return nil
}

// ofType returns the events of a given type delivered to a connection.
func (f *fakeTransport) ofType(connID, eventType string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range f.received[connID] {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRelay(t *testing.T) (*Relay, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	r := New("relay-test", transport, Options{}, zerolog.Nop())
	return r, transport
}

func join(r *Relay, connID, roomID, userID, name string) {
	r.HandleJoin(context.Background(), connID, protocol.JoinSessionMsg{
		RoomID:      roomID,
		UserID:      userID,
		DisplayName: name,
	})
}

func TestJoinNotifiesExistingMembers(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	got := transport.ofType("a", protocol.TypeParticipantJoined)
	if len(got) != 1 {
		t.Fatalf("expected existing member to receive 1 participant-joined, got %d", len(got))
	}
	p := got[0]["participant"].(map[string]interface{})
	if p["connection_id"] != "b" {
		t.Errorf("expected joined participant %q, got %v", "b", p["connection_id"])
	}
}

func TestJoinerReceivesMembershipSnapshot(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	got := transport.ofType("b", protocol.TypeSessionState)
	if len(got) != 1 {
		t.Fatalf("expected joiner to receive 1 session-state event, got %d", len(got))
	}
	members, ok := got[0]["participants"].([]interface{})
	if !ok || len(members) != 1 {
		t.Fatalf("expected snapshot of 1 existing member, got %v", got[0]["participants"])
	}
}

func TestFirstJoinerGetsStateNotJoinNotification(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")

	if got := transport.ofType("a", protocol.TypeParticipantJoined); len(got) != 0 {
		t.Fatalf("expected no participant-joined for the room's first member, got %d", len(got))
	}
	state := transport.ofType("a", protocol.TypeSessionState)
	if len(state) != 1 {
		t.Fatalf("expected 1 session-state event, got %d", len(state))
	}
	if members, ok := state[0]["participants"].([]interface{}); ok && len(members) != 0 {
		t.Errorf("expected empty snapshot for an empty room, got %v", members)
	}
}

// Two participants join r1; A sends session-message {text:"hi"}; B receives
// exactly one session-message with text "hi"; A does not receive an echo.
func TestSessionMessageScenario(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	r.HandleSessionMessage(context.Background(), "a", protocol.SessionMessageMsg{
		RoomID:  "r1",
		Payload: json.RawMessage(`{"text":"hi"}`),
	})

	got := transport.ofType("b", protocol.TypeSessionMessage)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 session-message at B, got %d", len(got))
	}
	payload := got[0]["payload"].(map[string]interface{})
	if payload["text"] != "hi" {
		t.Errorf("expected payload text %q, got %v", "hi", payload["text"])
	}
	if got[0]["from"] != "a" {
		t.Errorf("expected from %q, got %v", "a", got[0]["from"])
	}

	if echo := transport.ofType("a", protocol.TypeSessionMessage); len(echo) != 0 {
		t.Errorf("sender must not receive its own message, got %d", len(echo))
	}
}

func TestBroadcastDoesNotCrossRooms(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r2", "u2", "Ben")
	join(r, "c", "r2", "u3", "Cyd")

	r.HandleBiometricUpdate(context.Background(), "b", protocol.BiometricUpdateMsg{
		RoomID:  "r2",
		Payload: json.RawMessage(`{"bpm":88}`),
	})

	if got := transport.ofType("a", protocol.TypeBiometricUpdate); len(got) != 0 {
		t.Errorf("r1 participant must not receive r2 events, got %d", len(got))
	}
	if got := transport.ofType("c", protocol.TypeBiometricUpdate); len(got) != 1 {
		t.Errorf("r2 participant should receive the event, got %d", len(got))
	}
}

func TestLeaveStopsDeliveryAndNotifies(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	r.HandleLeave(context.Background(), "b", protocol.LeaveSessionMsg{RoomID: "r1"})

	left := transport.ofType("a", protocol.TypeParticipantLeft)
	if len(left) != 1 {
		t.Fatalf("expected 1 participant-left at A, got %d", len(left))
	}
	if left[0]["connection_id"] != "b" {
		t.Errorf("expected left connection %q, got %v", "b", left[0]["connection_id"])
	}

	r.HandleSessionMessage(context.Background(), "a", protocol.SessionMessageMsg{
		RoomID:  "r1",
		Payload: json.RawMessage(`{"text":"anyone?"}`),
	})
	if got := transport.ofType("b", protocol.TypeSessionMessage); len(got) != 0 {
		t.Errorf("left participant must not receive events, got %d", len(got))
	}
}

func TestDisconnectActsAsLeave(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	r.HandleDisconnect("b")

	if left := transport.ofType("a", protocol.TypeParticipantLeft); len(left) != 1 {
		t.Fatalf("expected participant-left after disconnect, got %d", len(left))
	}
	if r.Registry().RoomOf("b") != "" {
		t.Error("disconnected connection should not remain in a room")
	}
}

func TestRelayFromNonMemberRejected(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")

	// "b" never joined r1.
	r.HandleSessionMessage(context.Background(), "b", protocol.SessionMessageMsg{
		RoomID:  "r1",
		Payload: json.RawMessage(`{"text":"intruder"}`),
	})

	if got := transport.ofType("a", protocol.TypeSessionMessage); len(got) != 0 {
		t.Errorf("non-member events must not be relayed, got %d", len(got))
	}
	errs := transport.ofType("b", protocol.TypeError)
	if len(errs) != 1 {
		t.Fatalf("expected 1 error event at sender, got %d", len(errs))
	}
	if errs[0]["code"] != "not_in_room" {
		t.Errorf("expected error code %q, got %v", "not_in_room", errs[0]["code"])
	}
}

func TestClosedConnectionDoesNotAffectOthers(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")
	join(r, "c", "r1", "u3", "Cyd")
	transport.closed["b"] = true

	r.HandleReaction(context.Background(), "a", protocol.SendReactionMsg{
		RoomID:  "r1",
		Payload: json.RawMessage(`{"emoji":"❤️"}`),
	})

	if got := transport.ofType("c", protocol.TypeReaction); len(got) != 1 {
		t.Errorf("delivery to a closed connection must not affect others, got %d", len(got))
	}
}

func TestRejoinMovesParticipantBetweenRooms(t *testing.T) {
	r, transport := newTestRelay(t)

	join(r, "a", "r1", "u1", "Ada")
	join(r, "b", "r1", "u2", "Ben")

	// B moves to another room; A should see it leave.
	join(r, "b", "r2", "u2", "Ben")

	if left := transport.ofType("a", protocol.TypeParticipantLeft); len(left) != 1 {
		t.Fatalf("expected participant-left in the old room, got %d", len(left))
	}
	if r.Registry().RoomOf("b") != "r2" {
		t.Errorf("expected b in r2, got %q", r.Registry().RoomOf("b"))
	}
}
