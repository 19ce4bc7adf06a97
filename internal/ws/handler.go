package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"murk/internal/game"
	"murk/internal/hub"
)

// Handler owns websocket transport for the backend.
type Handler struct {
	hub       *hub.Hub
	queueSize int
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHandler creates a websocket handler bound to h. queueSize bounds
// each participant's outbound queue; zero means the default.
func NewHandler(h *hub.Hub, queueSize int) *Handler {
	if queueSize <= 0 {
		queueSize = game.DefaultQueueSize
	}
	return &Handler{
		hub:       h,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.ServeFrameConn(newGorillaConn(conn))
	return nil
}

// ServeFrameConn runs the session protocol over any duplex binary
// transport. Blocks until the session ends; the wt listener calls this
// directly.
func (h *Handler) ServeFrameConn(fc FrameConn) {
	c := &Conn{
		fc:    fc,
		h:     h,
		log:   slog.With("remote", fc.RemoteAddr()),
		abuse: abuseLimiter(),
	}
	c.serve()
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// ConnStats snapshots every seated connection, ordered by participant.
func (h *Handler) ConnStats() []ConnStat {
	h.mu.Lock()
	out := make([]ConnStat, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c.stat())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}
