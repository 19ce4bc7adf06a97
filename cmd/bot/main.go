// Command bot is a headless client for load and soak testing. It joins
// a server, swims in a circle through the same send gate a real client
// uses, keeps a clock estimate from ping/pong, and resamples remote
// entities through the interpolation buffer, logging a periodic
// summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"murk/internal/clock"
	"murk/internal/interp"
	"murk/internal/protocol"
	"murk/internal/sendgate"
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:8080/ws", "Server websocket URL")
	name := flag.String("name", "bot", "Display name")
	sendRate := flag.Int("send-rate", sendgate.DefaultSendRate, "Position send rate in Hz")
	radius := flag.Float64("radius", 10, "Swim circle radius in metres")
	duration := flag.Duration("duration", 0, "Exit after this long; zero runs until interrupted")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx, *url, *name, *sendRate, *radius); err != nil {
		slog.Error("bot failed", "err", err)
		os.Exit(1)
	}
}

type bot struct {
	conn *websocket.Conn
	clk  *clock.NetClock
	gate *sendgate.Gate

	writeMu sync.Mutex

	mu      sync.Mutex
	selfID  uint32
	roomID  string
	host    bool
	remotes map[uint32]*interp.Buffer
	batches uint64
	deaths  uint64
}

func run(ctx context.Context, url, name string, sendRate int, radius float64) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	b := &bot{
		conn:    conn,
		clk:     clock.New(clock.DefaultInterpolationDelay),
		gate:    sendgate.New(sendgate.Config{SendRate: sendRate}),
		remotes: make(map[uint32]*interp.Buffer),
	}

	if err := b.write(protocol.JoinGame{
		DisplayName: name,
		Creature:    protocol.Creature{Type: "axolotl", Class: "small"},
	}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- b.readLoop() }()
	go b.moveLoop(ctx, radius)
	go b.pingLoop(ctx)
	go b.reportLoop(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-readErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("read: %w", err)
	}
}

func (b *bot) write(m protocol.Message) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(m))
}

func (b *bot) readLoop() error {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("undecodable frame from server", "err", err)
			continue
		}
		b.handle(m)
	}
}

func (b *bot) handle(m protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch v := m.(type) {
	case protocol.Welcome:
		b.selfID = v.ParticipantID
		b.roomID = v.RoomID
		b.host = v.IsHost
		slog.Info("joined",
			"participant_id", v.ParticipantID, "room_id", v.RoomID,
			"host", v.IsHost, "peers", len(v.Participants),
			"dead_npcs", len(v.DeadNPCIDs))

	case protocol.Pong:
		b.clk.ObservePong(v.ClientTime, v.ServerTime)

	case protocol.BatchPositions:
		b.batches++
		ts := time.UnixMilli(v.ServerTime)
		for _, e := range v.Entries {
			if e.ID == b.selfID {
				continue
			}
			buf, ok := b.remotes[e.ID]
			if !ok {
				buf = interp.NewBuffer()
				b.remotes[e.ID] = buf
			}
			buf.Push(interp.Sample{
				ServerTime: ts,
				Pos:        e.Transform.Pos,
				Rot:        e.Transform.Rot,
				Scale:      e.Transform.Scale,
			})
		}

	case protocol.PlayerJoin:
		slog.Debug("peer joined", "participant_id", v.Participant.ID, "name", v.Participant.DisplayName)

	case protocol.PlayerLeave:
		delete(b.remotes, v.ParticipantID)
		slog.Debug("peer left", "participant_id", v.ParticipantID)

	case protocol.HostAssigned:
		b.host = v.IsHost
		slog.Info("host role assigned", "host", v.IsHost)

	case protocol.HostChanged:
		slog.Debug("host changed", "host_id", v.HostID)

	case protocol.NPCDeath:
		b.deaths++

	case protocol.MapChange:
		for _, buf := range b.remotes {
			buf.Reset()
		}
		slog.Info("map changed", "seed", v.Seed)
	}
}

// moveLoop swims a circle at 60 Hz simulation rate; the gate decides
// which frames actually hit the wire.
func (b *bot) moveLoop(ctx context.Context, radius float64) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			angle := now.Sub(start).Seconds() * 0.5
			t := protocol.Transform{
				Pos: protocol.Vec3{
					X: radius * math.Cos(angle),
					Y: -5,
					Z: radius * math.Sin(angle),
				},
				Rot:   protocol.Vec3{Y: angle + math.Pi/2},
				Scale: 1,
			}
			if !b.gate.MaybeSend(now, t, 1) {
				continue
			}
			if err := b.write(protocol.Position{Transform: t, HasVolume: true, WorldVolume: 1}); err != nil {
				return
			}
		}
	}
}

func (b *bot) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.write(protocol.Ping{ClientTime: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

// reportLoop logs a summary line every 10 seconds, resampling each
// remote at the clock's render time to exercise the full receive path.
func (b *bot) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			render := b.clk.RenderTime()

			b.mu.Lock()
			visible := 0
			for _, buf := range b.remotes {
				if _, ok := buf.At(render); ok {
					visible++
				}
			}
			batches, deaths, peers := b.batches, b.deaths, len(b.remotes)
			b.mu.Unlock()

			slog.Info("summary",
				"peers", peers, "visible", visible,
				"batches", batches, "npc_deaths", deaths,
				"rtt_ms", b.clk.RTT().Milliseconds(),
				"offset_ms", b.clk.Offset().Milliseconds())
		}
	}
}
