package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"murk/internal/game"
	"murk/internal/hub"
	"murk/internal/protocol"
)

func startTestServer(t *testing.T) (*Handler, string) {
	t.Helper()
	h := hub.New(game.Config{Capacity: 8, TickRate: 20, QueueSize: 64})
	t.Cleanup(h.Close)

	wsh := NewHandler(h, 64)
	e := echo.New()
	e.HideBanner = true
	wsh.Register(e)

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return wsh, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeMsg(t *testing.T, conn *websocket.Conn, m protocol.Message) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(m)); err != nil {
		t.Fatalf("write %s: %v", m.Tag(), err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	m, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return m
}

// readUntil reads frames until pred accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(protocol.Message) bool) protocol.Message {
	t.Helper()
	for i := 0; i < 64; i++ {
		if m := readMsg(t, conn); pred(m) {
			return m
		}
	}
	t.Fatal("no matching frame within 64 reads")
	return nil
}

func connect(t *testing.T, url, name string) (*websocket.Conn, protocol.Welcome) {
	t.Helper()
	conn := dial(t, url)
	writeMsg(t, conn, protocol.JoinGame{DisplayName: name, Creature: protocol.Creature{Type: "axolotl"}})
	w, ok := readMsg(t, conn).(protocol.Welcome)
	if !ok {
		t.Fatalf("first server frame was not WELCOME for %s", name)
	}
	return conn, w
}

func TestJoinHandshake(t *testing.T) {
	_, url := startTestServer(t)

	alice, wa := connect(t, url, "alice")
	if !wa.IsHost || wa.ParticipantID == 0 {
		t.Fatalf("first joiner must be host with a nonzero id: %#v", wa)
	}

	_, wb := connect(t, url, "bob")
	if wb.IsHost || wb.HostID != wa.ParticipantID {
		t.Fatalf("second joiner host fields wrong: %#v", wb)
	}
	if len(wb.Participants) != 1 || wb.Participants[0].DisplayName != "alice" {
		t.Fatalf("roster should list alice: %#v", wb.Participants)
	}

	join := readUntil(t, alice, func(m protocol.Message) bool {
		return m.Tag() == protocol.TagPlayerJoin
	}).(protocol.PlayerJoin)
	if join.Participant.ID != wb.ParticipantID {
		t.Fatalf("alice saw wrong joiner: %#v", join)
	}
}

func TestPositionFlowsIntoBatch(t *testing.T) {
	_, url := startTestServer(t)

	alice, wa := connect(t, url, "alice")
	bob, _ := connect(t, url, "bob")

	writeMsg(t, bob, protocol.Position{
		Transform:   protocol.Transform{Pos: protocol.Vec3{X: 3.25, Y: -1.5}, Scale: 1},
		HasVolume:   true,
		WorldVolume: 2.5,
	})

	batch := readUntil(t, alice, func(m protocol.Message) bool {
		b, ok := m.(protocol.BatchPositions)
		return ok && len(b.Entries) > 0
	}).(protocol.BatchPositions)

	var found bool
	for _, e := range batch.Entries {
		if e.ID == wa.ParticipantID {
			continue
		}
		if e.Transform.Pos.X == 3.25 && e.WorldVolume == 2.5 {
			found = true
		}
	}
	if !found {
		t.Fatalf("bob's pose missing from batch: %#v", batch)
	}
}

func TestPingPongOverSocket(t *testing.T) {
	_, url := startTestServer(t)
	conn, _ := connect(t, url, "alice")

	sent := time.Now().UnixMilli()
	writeMsg(t, conn, protocol.Ping{ClientTime: sent})
	pong := readUntil(t, conn, func(m protocol.Message) bool {
		return m.Tag() == protocol.TagPong
	}).(protocol.Pong)
	if pong.ClientTime != sent {
		t.Fatalf("pong echoes %d, want %d", pong.ClientTime, sent)
	}
	if pong.ServerTime == 0 {
		t.Fatal("pong must stamp server time")
	}
}

func TestFirstFrameMustBeJoin(t *testing.T) {
	_, url := startTestServer(t)
	conn := dial(t, url)

	writeMsg(t, conn, protocol.Ping{ClientTime: 1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("server should close a connection that skips JOIN_GAME")
	}
}

func TestUndecodableFramesTolerated(t *testing.T) {
	_, url := startTestServer(t)
	conn, _ := connect(t, url, "alice")

	// A few malformed frames stay under the abuse budget; the session
	// must survive them.
	for i := 0; i < 3; i++ {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x00}); err != nil {
			t.Fatalf("write garbage: %v", err)
		}
	}

	writeMsg(t, conn, protocol.Ping{ClientTime: 7})
	pong := readUntil(t, conn, func(m protocol.Message) bool {
		return m.Tag() == protocol.TagPong
	}).(protocol.Pong)
	if pong.ClientTime != 7 {
		t.Fatalf("session broken after tolerated garbage: %#v", pong)
	}
}

func TestAbuseLimitCloses(t *testing.T) {
	_, url := startTestServer(t)
	conn, _ := connect(t, url, "alice")

	// Blow straight through the burst budget.
	for i := 0; i < 32; i++ {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF}); err != nil {
			return // server already hung up
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestDisconnectBroadcastsLeave(t *testing.T) {
	_, url := startTestServer(t)

	alice, _ := connect(t, url, "alice")
	bob, wb := connect(t, url, "bob")

	bob.Close()
	leave := readUntil(t, alice, func(m protocol.Message) bool {
		return m.Tag() == protocol.TagPlayerLeave
	}).(protocol.PlayerLeave)
	if leave.ParticipantID != wb.ParticipantID {
		t.Fatalf("leave for wrong participant: %#v", leave)
	}
}

func TestConnStatsTracksSessions(t *testing.T) {
	wsh, url := startTestServer(t)

	_, wa := connect(t, url, "alice")
	deadline := time.After(2 * time.Second)
	for {
		stats := wsh.ConnStats()
		if len(stats) == 1 && stats[0].ParticipantID == wa.ParticipantID {
			if stats[0].RoomID == "" {
				t.Fatalf("stat missing room: %#v", stats[0])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("conn never tracked: %#v", wsh.ConnStats())
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
