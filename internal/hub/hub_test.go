package hub

import (
	"testing"
	"time"

	"murk/internal/game"
)

func testHub(capacity int) *Hub {
	return New(game.Config{Capacity: capacity, TickRate: 20, QueueSize: 32})
}

func join(t *testing.T, h *Hub, name string) (*game.Room, uint32) {
	t.Helper()
	id := h.NextParticipantID()
	r, w, err := h.Assign(game.JoinRequest{ID: id, DisplayName: name, Out: game.NewOutbox(32)})
	if err != nil {
		t.Fatalf("assign %s: %v", name, err)
	}
	if w.ParticipantID != id {
		t.Fatalf("welcome id = %d, want %d", w.ParticipantID, id)
	}
	return r, id
}

func TestParticipantIDsStartAtOne(t *testing.T) {
	h := testHub(4)
	defer h.Close()
	if id := h.NextParticipantID(); id != 1 {
		t.Fatalf("first id = %d, want 1", id)
	}
	if id := h.NextParticipantID(); id != 2 {
		t.Fatalf("second id = %d, want 2", id)
	}
}

func TestOldestRoomFillsFirst(t *testing.T) {
	h := testHub(2)
	defer h.Close()

	r1, _ := join(t, h, "alice")
	r2, _ := join(t, h, "bob")
	if r1 != r2 {
		t.Fatal("second joiner should land in the same room")
	}

	// Room is full now; the third joiner gets a fresh one.
	r3, _ := join(t, h, "carol")
	if r3 == r1 {
		t.Fatal("full room must not accept a third participant")
	}
	if h.Rooms() != 2 {
		t.Fatalf("rooms = %d, want 2", h.Rooms())
	}

	// Space opens up in the oldest room again; it fills before room two.
	r1.Disconnect(1, "test")
	waitLen(t, r1, 1)
	r4, _ := join(t, h, "dave")
	if r4 != r1 {
		t.Fatal("oldest room with space should fill first")
	}
}

func TestEmptiedRoomRetires(t *testing.T) {
	h := testHub(4)

	r, id := join(t, h, "alice")
	if h.Rooms() != 1 {
		t.Fatalf("rooms = %d, want 1", h.Rooms())
	}

	r.Disconnect(id, "test")
	deadline := time.After(2 * time.Second)
	for h.Rooms() != 0 {
		select {
		case <-deadline:
			t.Fatalf("room never retired, rooms = %d", h.Rooms())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	// The next joiner gets a brand-new room.
	r2, _ := join(t, h, "bob")
	if r2 == r || r2.Closed() {
		t.Fatal("joiner after retirement should get a live fresh room")
	}
	h.Close()
}

func TestSnapshotOrdersByCreation(t *testing.T) {
	h := testHub(1)
	defer h.Close()

	_, id1 := join(t, h, "alice")
	join(t, h, "bob")

	stats := h.Snapshot()
	if len(stats) != 2 {
		t.Fatalf("snapshot rooms = %d, want 2", len(stats))
	}
	if len(stats[0].Participants) != 1 || stats[0].Participants[0].ID != id1 {
		t.Fatalf("first snapshot should be the oldest room: %#v", stats[0])
	}
}

func TestCloseRejectsJoins(t *testing.T) {
	h := testHub(4)
	r, _ := join(t, h, "alice")
	h.Close()

	if !r.Closed() {
		t.Fatal("close must terminate rooms")
	}
	_, _, err := h.Assign(game.JoinRequest{ID: h.NextParticipantID(), DisplayName: "late", Out: game.NewOutbox(8)})
	if err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitLen(t *testing.T, r *game.Room, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for r.Len() != want {
		select {
		case <-deadline:
			t.Fatalf("room len = %d, want %d", r.Len(), want)
		default:
			time.Sleep(2 * time.Millisecond)
		}
	}
}
