// Command server runs the murk session backend: the websocket endpoint
// plus health, stats and metrics routes, with an optional WebTransport
// listener alongside.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"murk/internal/game"
	"murk/internal/httpapi"
	"murk/internal/hub"
	"murk/internal/ws"
	"murk/internal/wt"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

const opsLogInterval = 30 * time.Second

func main() {
	addr := flag.String("listen", ":8080", "HTTP listen address")
	wtAddr := flag.String("wt-listen", "", "WebTransport (QUIC) listen address; empty disables")
	wtHost := flag.String("wt-hostname", "", "Hostname for the WebTransport certificate")
	capacity := flag.Int("room-capacity", 32, "Max participants per room")
	tickRate := flag.Int("tick-rate", 20, "Position broadcast rate in Hz")
	queueSize := flag.Int("queue-size", game.DefaultQueueSize, "Per-connection outbound queue bound")
	serverName := flag.String("name", "murk server", "Instance name reported in /stats")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := validateConfig(*capacity, *tickRate, *queueSize); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(2)
	}

	slog.Info("starting server",
		"version", Version, "addr", *addr,
		"room_capacity", *capacity, "tick_rate", *tickRate)

	h := hub.New(game.Config{
		Capacity:  *capacity,
		TickRate:  *tickRate,
		QueueSize: *queueSize,
	})
	defer h.Close()

	wsh := ws.NewHandler(h, *queueSize)
	server := httpapi.New(h, wsh, *serverName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	if *wtAddr != "" {
		wts := wt.NewServer(*wtAddr, *wtHost, wsh)
		go func() {
			if err := wts.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("webtransport listener failed", "err", err)
				cancel()
			}
		}()
	}

	go opsLog(ctx, h, wsh)

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func validateConfig(capacity, tickRate, queueSize int) error {
	if capacity < 1 || capacity > 1024 {
		return fmt.Errorf("room capacity %d out of range [1, 1024]", capacity)
	}
	if tickRate < 10 || tickRate > 20 {
		return fmt.Errorf("tick rate %d out of range [10, 20]", tickRate)
	}
	if queueSize < 16 {
		return fmt.Errorf("queue size %d below minimum 16", queueSize)
	}
	return nil
}

// opsLog emits a periodic one-line operational summary.
func opsLog(ctx context.Context, h *hub.Hub, wsh *ws.Handler) {
	ticker := time.NewTicker(opsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conns := wsh.ConnStats()
			var in, out uint64
			for _, c := range conns {
				in += c.FramesIn
				out += c.FramesOut
			}
			slog.Info("ops",
				"rooms", h.Rooms(), "connections", len(conns),
				"frames_in", in, "frames_out", out)
		}
	}
}
