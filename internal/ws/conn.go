package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"murk/internal/game"
	"murk/internal/metrics"
	"murk/internal/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	keepaliveTimeout = 30 * time.Second
	pingInterval     = 10 * time.Second
)

// abuseLimiter tolerates up to 16 malformed or misplaced frames per
// 10 seconds before the connection is cut.
func abuseLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(10*time.Second/16), 16)
}

// Connection lifecycle, exposed through /stats.
const (
	statePreHandshake = iota
	stateJoined
	stateClosed
)

func stateName(s int32) string {
	switch s {
	case statePreHandshake:
		return "pre_handshake"
	case stateJoined:
		return "joined"
	default:
		return "closed"
	}
}

// Conn is one client session from handshake to teardown.
type Conn struct {
	fc  FrameConn
	h   *Handler
	log *slog.Logger

	id    uint32
	room  *game.Room
	out   *game.Outbox
	state atomic.Int32

	abuse *rate.Limiter

	framesIn  atomic.Uint64
	framesOut atomic.Uint64

	closeOnce sync.Once
}

// ConnStat is one live connection's state for the operator endpoint.
type ConnStat struct {
	ParticipantID uint32  `json:"participant_id"`
	RemoteAddr    string  `json:"remote_addr"`
	RoomID        string  `json:"room_id"`
	State         string  `json:"state"`
	RTTMs         float64 `json:"rtt_ms,omitempty"`
	FramesIn      uint64  `json:"frames_in"`
	FramesOut     uint64  `json:"frames_out"`
}

func (c *Conn) stat() ConnStat {
	st := ConnStat{
		ParticipantID: c.id,
		RemoteAddr:    c.fc.RemoteAddr(),
		State:         stateName(c.state.Load()),
		FramesIn:      c.framesIn.Load(),
		FramesOut:     c.framesOut.Load(),
	}
	if c.room != nil {
		st.RoomID = c.room.ID
	}
	if p, ok := c.fc.(Pinger); ok {
		if rtt, ok := p.RTT(); ok {
			st.RTTMs = float64(rtt) / float64(time.Millisecond)
		}
	}
	return st
}

// serve runs the session: handshake, seat assignment, then the read
// loop until disconnect. The write pump and keepalive pinger run as
// side goroutines tied to the outbox and connection lifetime.
func (c *Conn) serve() {
	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsCurrent.Inc()
	defer metrics.ConnectionsCurrent.Dec()
	defer c.teardown("serve exit")

	join, err := c.readJoin()
	if err != nil {
		c.log.Info("handshake failed", "remote", c.fc.RemoteAddr(), "err", err)
		return
	}

	c.id = c.h.hub.NextParticipantID()
	c.log = c.log.With("participant_id", c.id)
	c.out = game.NewOutbox(c.h.queueSize)

	room, _, err := c.h.hub.Assign(game.JoinRequest{
		ID:          c.id,
		DisplayName: join.DisplayName,
		Creature:    join.Creature,
		Out:         c.out,
	})
	if err != nil {
		c.log.Warn("seat assignment failed", "err", err)
		if cr, ok := c.fc.(CloseReasoner); ok {
			_ = cr.CloseWithReason("no seat available")
		}
		return
	}
	c.room = room
	c.state.Store(stateJoined)

	c.h.track(c)
	defer c.h.untrack(c)

	done := make(chan struct{})
	defer close(done)
	go c.writePump()
	if p, ok := c.fc.(Pinger); ok {
		go c.pingLoop(p, done)
	}

	c.readLoop()
}

// readJoin enforces the handshake: exactly one JOIN_GAME frame within
// the handshake window.
func (c *Conn) readJoin() (protocol.JoinGame, error) {
	_ = c.fc.SetReadDeadline(time.Now().Add(handshakeTimeout))
	data, err := c.fc.ReadFrame()
	if err != nil {
		return protocol.JoinGame{}, err
	}
	c.framesIn.Add(1)
	metrics.FramesReceived.Inc()

	m, err := protocol.Decode(data)
	if err != nil {
		metrics.DecodeErrors.Inc()
		return protocol.JoinGame{}, err
	}
	join, ok := m.(protocol.JoinGame)
	if !ok {
		metrics.ProtocolErrors.Inc()
		return protocol.JoinGame{}, errors.New("first frame must be JOIN_GAME")
	}
	return join, nil
}

func (c *Conn) readLoop() {
	for {
		_ = c.fc.SetReadDeadline(time.Now().Add(keepaliveTimeout))
		data, err := c.fc.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrNonBinaryFrame) && c.strike("text frame") {
				continue
			}
			return
		}
		c.framesIn.Add(1)
		metrics.FramesReceived.Inc()

		m, err := protocol.Decode(data)
		if err != nil {
			metrics.DecodeErrors.Inc()
			if !c.strike("decode error") {
				return
			}
			continue
		}
		if _, dup := m.(protocol.JoinGame); dup {
			metrics.ProtocolErrors.Inc()
			if !c.strike("duplicate JOIN_GAME") {
				return
			}
			continue
		}
		c.room.Dispatch(c.id, m)
	}
}

// strike charges one abuse token. False means the budget is exhausted
// and the caller must drop the connection.
func (c *Conn) strike(reason string) bool {
	if c.abuse.Allow() {
		c.log.Debug("bad frame tolerated", "reason", reason)
		return true
	}
	c.log.Warn("abuse limit exceeded, closing", "reason", reason)
	return false
}

// writePump drains the outbox onto the wire. It exits once the outbox
// is closed and empty, or on the first write failure.
func (c *Conn) writePump() {
	for {
		for {
			m, ok := c.out.Pop()
			if !ok {
				break
			}
			if err := c.fc.WriteFrame(protocol.Encode(m)); err != nil {
				c.teardown("write failed")
				return
			}
			c.framesOut.Add(1)
			metrics.FramesSent.Inc()
		}
		if c.out.Closed() && c.out.Pending() == 0 {
			c.teardown("outbox drained")
			return
		}
		<-c.out.Signal()
	}
}

// pingLoop keeps a transport-level RTT estimate fresh. A failed ping
// means the peer is gone; the read loop will notice via its deadline.
func (c *Conn) pingLoop(p Pinger, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := p.Ping(); err != nil {
				return
			}
		}
	}
}

// teardown runs exactly once: unseats the participant and closes the
// socket. Safe to call from either pump.
func (c *Conn) teardown(reason string) {
	c.closeOnce.Do(func() {
		if c.room != nil {
			c.room.Disconnect(c.id, reason)
		}
		if c.out != nil {
			c.out.Close()
		}
		c.state.Store(stateClosed)
		_ = c.fc.Close()
		c.log.Debug("connection closed", "reason", reason)
	})
}
