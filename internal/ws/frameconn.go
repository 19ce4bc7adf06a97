// Package ws owns client transport for the backend: it upgrades
// websocket requests, runs the per-connection read/write pumps, and
// bridges decoded frames into the hub's rooms. The wt package reuses
// the same session logic over WebTransport via the FrameConn seam.
package ws

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds one inbound frame. The largest legitimate client
// frame is an NPC snapshot, which stays well under this.
const maxFrameSize = 1 << 16

// ErrNonBinaryFrame is returned when a client sends a text frame; the
// protocol is binary-only.
var ErrNonBinaryFrame = errors.New("non-binary frame")

// FrameConn is one duplex binary-frame transport. Implementations must
// allow WriteFrame and ReadFrame from different goroutines.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// CloseReasoner is implemented by transports that can tell the peer
// why it is being dropped before the connection goes away.
type CloseReasoner interface {
	CloseWithReason(reason string) error
}

// Pinger is implemented by transports with control-level pings. The
// session uses it for a server-side RTT estimate independent of the
// application PING frame.
type Pinger interface {
	Ping() error
	RTT() (time.Duration, bool)
}

// gorillaConn adapts a gorilla websocket to FrameConn and Pinger.
type gorillaConn struct {
	conn   *websocket.Conn
	rttNs  atomic.Int64
	pinged atomic.Int64 // UnixNano of the last outbound ping
}

func newGorillaConn(conn *websocket.Conn) *gorillaConn {
	g := &gorillaConn{conn: conn}
	conn.SetReadLimit(maxFrameSize)
	conn.SetPongHandler(func(string) error {
		if at := g.pinged.Load(); at != 0 {
			g.rttNs.Store(time.Now().UnixNano() - at)
		}
		return nil
	})
	return g
}

// ReadFrame returns the next binary frame. Control frames are handled
// by gorilla underneath; a text frame is a protocol violation.
func (g *gorillaConn) ReadFrame() ([]byte, error) {
	msgType, data, err := g.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if msgType != websocket.BinaryMessage {
		return nil, ErrNonBinaryFrame
	}
	return data, nil
}

func (g *gorillaConn) WriteFrame(data []byte) error {
	_ = g.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return g.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (g *gorillaConn) SetReadDeadline(t time.Time) error {
	return g.conn.SetReadDeadline(t)
}

func (g *gorillaConn) Close() error { return g.conn.Close() }

// CloseWithReason sends a policy-violation close frame so browser
// clients see the reason, then closes the socket.
func (g *gorillaConn) CloseWithReason(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = g.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	return g.conn.Close()
}

func (g *gorillaConn) RemoteAddr() string { return g.conn.RemoteAddr().String() }

// Ping sends a websocket control ping; the pong handler records RTT.
func (g *gorillaConn) Ping() error {
	g.pinged.Store(time.Now().UnixNano())
	_ = g.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// RTT returns the latest control-ping round trip, if one completed.
func (g *gorillaConn) RTT() (time.Duration, bool) {
	ns := g.rttNs.Load()
	if ns == 0 {
		return 0, false
	}
	return time.Duration(ns), true
}
