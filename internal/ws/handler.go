package ws

import (
	"time"

	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wsframe"
)

// Logger is the minimal logging port the WS subsystem needs — the
// root facade wires this to the same zap-backed logger the rest of
// the engine uses.
type Logger interface {
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warnf(string, ...any) {}

// Handler is the WS server: a connection registry plus rooms, event
// dispatch, and a ping scheduler, all driven by the host engine's
// per-tick callbacks rather than owning any goroutines of its own.
type Handler struct {
	cfg      Config
	registry *Registry
	hooks    hooks
	logger   Logger

	pingInterval time.Duration
	pongTimeout  time.Duration

	pool *conn.Pool
}

// New constructs a Handler. pool is the engine's connection pool,
// needed to finally evict a WS connection's socket once it closes.
func New(cfg Config, pool *conn.Pool) *Handler {
	return &Handler{
		cfg:          cfg,
		registry:     newRegistry(),
		logger:       noopLogger{},
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
		pool:         pool,
	}
}

// SetLogger installs the logging port.
func (h *Handler) SetLogger(l Logger) {
	if l != nil {
		h.logger = l
	}
}

// SetPingInterval/SetPongTimeout override the ping scheduler
// defaults.
func (h *Handler) SetPingInterval(d time.Duration) { h.pingInterval = d }
func (h *Handler) SetPongTimeout(d time.Duration)  { h.pongTimeout = d }

// Registry exposes the connection/room registry for host code that
// wants to broadcast or inspect membership directly.
func (h *Handler) Registry() *Registry { return h.registry }

// JoinRoom/LeaveRoom/Broadcast/BroadcastToRoom forward to the registry
// for convenience.
func (h *Handler) JoinRoom(c *Conn, room string)  { h.registry.JoinRoom(c, room) }
func (h *Handler) LeaveRoom(c *Conn, room string) { h.registry.LeaveRoom(c, room) }
func (h *Handler) Broadcast(payload []byte, exclude *Conn) {
	h.registry.Broadcast(payload, exclude)
}
func (h *Handler) BroadcastToRoom(room string, payload []byte, exclude *Conn) {
	h.registry.BroadcastToRoom(room, payload, exclude)
}

// HandleData is the server.WebSocketDataHandler installed for
// connections adopted by Handshake.
func (h *Handler) HandleData(ref conn.Ref, raw *conn.Conn, data []byte) {
	c, ok := h.registry.byRaw(raw)
	if !ok {
		return
	}
	h.feed(c, data)
}

// Tick runs the ping scheduler and purges closed connections.
// Installed as the server's per-poll WS tick hook.
func (h *Handler) Tick() {
	now := time.Now()
	h.registry.Each(func(c *Conn) {
		if c.State() == StateOpen && !c.raw.IsValid() {
			c.mu.Lock()
			c.state = StateClosed
			c.mu.Unlock()
			h.emitClose(c, 1006, "connection lost")
			return
		}
		if c.State() != StateOpen {
			return
		}
		h.pingCheck(c, now)
	})

	h.registry.Each(func(c *Conn) {
		if c.State() == StateClosed {
			h.pool.Remove(c.ref)
		}
	})
	h.registry.CleanupClosedConnections()
}

func (h *Handler) pingCheck(c *Conn, now time.Time) {
	c.mu.Lock()
	lastPing := c.lastPingSent
	lastPong := c.lastPongRecv
	outstanding := c.pingOutstanding
	c.mu.Unlock()

	if outstanding && now.Sub(lastPing) > h.pongTimeout && lastPong.Before(lastPing) {
		h.closeWithCode(c, 1008, "ping timeout")
		return
	}

	if lastPing.IsZero() || now.Sub(lastPing) > h.pingInterval {
		c.raw.Write(wsframe.EncodePing(nil))
		c.mu.Lock()
		c.lastPingSent = now
		c.pingOutstanding = true
		c.mu.Unlock()
	}
}
