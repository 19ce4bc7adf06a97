// Package httpapi is the Echo application: health and stats endpoints,
// the Prometheus exposition route, and the websocket mount.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shirou/gopsutil/v3/process"

	"murk/internal/game"
	"murk/internal/hub"
	"murk/internal/metrics"
	"murk/internal/ws"
)

// Server is the Echo application.
type Server struct {
	echo    *echo.Echo
	hub     *hub.Hub
	wsh     *ws.Handler
	name    string
	started time.Time
	proc    *process.Process
}

// New constructs an Echo app with websocket + operator routes. name is
// the instance label surfaced in /stats.
func New(h *hub.Hub, wsh *ws.Handler, name string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	proc, _ := process.NewProcess(int32(os.Getpid()))
	s := &Server{
		echo:    e,
		hub:     h,
		wsh:     wsh,
		name:    name,
		started: time.Now(),
		proc:    proc,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/stats", s.handleStats)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	s.wsh.Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status: "ok",
		Rooms:  s.hub.Rooms(),
	})
}

type processStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

type statsResponse struct {
	Name          string           `json:"name,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Rooms         []game.RoomStats `json:"rooms"`
	Connections   []ws.ConnStat    `json:"connections"`
	Process       *processStats    `json:"process,omitempty"`
}

func (s *Server) handleStats(c echo.Context) error {
	resp := statsResponse{
		Name:          s.name,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Rooms:         s.hub.Snapshot(),
		Connections:   s.wsh.ConnStats(),
	}
	if resp.Rooms == nil {
		resp.Rooms = []game.RoomStats{}
	}
	if resp.Connections == nil {
		resp.Connections = []ws.ConnStat{}
	}
	if s.proc != nil {
		var ps processStats
		if cpu, err := s.proc.CPUPercent(); err == nil {
			ps.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			ps.RSSBytes = mem.RSS
		}
		resp.Process = &ps
	}
	return c.JSON(http.StatusOK, resp)
}
