// Package hub owns the room directory. It hands each arriving
// connection a seat in the oldest room with space, creating a fresh
// room when every existing one is full, and retires rooms when their
// last participant leaves.
package hub

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"murk/internal/game"
	"murk/internal/metrics"
	"murk/internal/protocol"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("hub is closed")

// assignRetries bounds how many times Assign re-picks after losing a
// race against a room filling up or terminating underneath it.
const assignRetries = 4

// Hub routes joiners into rooms.
type Hub struct {
	cfg game.Config

	mu     sync.Mutex
	rooms  map[string]*game.Room
	order  []string // creation order; oldest room fills first
	closed bool

	nextID atomic.Uint32
}

// New returns a hub that creates rooms with cfg.
func New(cfg game.Config) *Hub {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 32
	}
	return &Hub{
		cfg:   cfg,
		rooms: make(map[string]*game.Room),
	}
}

// NextParticipantID issues a process-unique participant ID. IDs start
// at 1; zero is reserved as "nobody" on the wire.
func (h *Hub) NextParticipantID() uint32 {
	return h.nextID.Add(1)
}

// Assign seats the joiner in a room, creating one if needed, and
// returns the room together with the WELCOME already enqueued on the
// joiner's outbox.
func (h *Hub) Assign(req game.JoinRequest) (*game.Room, protocol.Welcome, error) {
	var lastErr error
	for range assignRetries {
		r, err := h.pick()
		if err != nil {
			return nil, protocol.Welcome{}, err
		}
		w, err := r.Join(req)
		if err == nil {
			return r, w, nil
		}
		if errors.Is(err, game.ErrDuplicateID) {
			return nil, protocol.Welcome{}, err
		}
		// Full or terminated since we picked it; try again.
		lastErr = err
	}
	return nil, protocol.Welcome{}, lastErr
}

// pick returns the oldest room with space, or creates one.
func (h *Hub) pick() (*game.Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	for _, id := range h.order {
		r := h.rooms[id]
		if !r.Closed() && r.Len() < h.cfg.Capacity {
			return r, nil
		}
	}
	return h.createLocked(), nil
}

func (h *Hub) createLocked() *game.Room {
	id := uuid.NewString()
	r := game.NewRoom(id, rand.Uint32(), h.cfg, h.retire)
	h.rooms[id] = r
	h.order = append(h.order, id)
	metrics.RoomsCurrent.Set(float64(len(h.rooms)))
	slog.Info("room created", "room_id", id, "rooms", len(h.rooms))
	return r
}

// retire removes an emptied room from the directory. Called from the
// room's own goroutine via the onEmpty hook.
func (h *Hub) retire(r *game.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[r.ID]; !ok {
		return
	}
	delete(h.rooms, r.ID)
	for i, id := range h.order {
		if id == r.ID {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	metrics.RoomsCurrent.Set(float64(len(h.rooms)))
	slog.Info("room retired", "room_id", r.ID, "rooms", len(h.rooms))
}

// Rooms returns the current room count.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Snapshot captures stats for every live room in creation order.
func (h *Hub) Snapshot() []game.RoomStats {
	h.mu.Lock()
	rooms := make([]*game.Room, 0, len(h.order))
	for _, id := range h.order {
		rooms = append(rooms, h.rooms[id])
	}
	h.mu.Unlock()

	out := make([]game.RoomStats, 0, len(rooms))
	for _, r := range rooms {
		if st, ok := r.Snapshot(); ok {
			out = append(out, st)
		}
	}
	return out
}

// Close stops accepting joins and terminates every room.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	rooms := make([]*game.Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*game.Room)
	h.order = nil
	h.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
	metrics.RoomsCurrent.Set(0)
}
