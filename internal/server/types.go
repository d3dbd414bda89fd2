// Package server implements the poll-driven engine: a host calls
// HasRequest() once per tick instead of this package owning an
// accept/dispatch loop of its own.
package server

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/tempfile"
	"github.com/badu/evhttp/internal/wire"
)

// Config bounds the engine's per-tick work and timeouts.
type Config struct {
	MaxAcceptsPerCycle   int
	MaxConnections       int
	MaxRequestSize       int64
	ReadChunkSize        int
	RequestTimeout       time.Duration
	IdleTimeout          time.Duration
	KeepAliveEnabled     bool
	KeepAliveMaxRequests int
	KeepAliveTimeout     time.Duration
	TempFileDir          string

	// TLSConfig, when set, wraps every accepted connection in a TLS
	// server session. The listener itself stays plain TCP so the
	// deadline-based non-blocking accept idiom keeps working.
	TLSConfig *tls.Config
}

func (c Config) withDefaults() Config {
	if c.MaxAcceptsPerCycle <= 0 {
		c.MaxAcceptsPerCycle = 16
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = 10 << 20
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = 8 << 10
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.KeepAliveMaxRequests <= 0 {
		c.KeepAliveMaxRequests = 100
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = 5 * time.Second
	}
	return c
}

// StaticHandler is invoked for requests whose path resolves to a file
// under an attached public root. ok is false if the
// path did not resolve to a static asset.
type StaticHandler func(req *wire.Request) (resp *wire.Response, ok bool)

// WebSocketHandler performs the handshake and adopts the
// connection. ok is false if no WS handler is attached at the path.
type WebSocketHandler func(req *wire.Request, c *conn.Conn, ref conn.Ref) (ok bool)

// WebSocketDataHandler receives raw bytes read from a connection once
// it has been adopted into conn.StateWebSocket — the engine stops
// HTTP-framing those reads and hands them here instead.
type WebSocketDataHandler func(ref conn.Ref, c *conn.Conn, data []byte)

// RateLimiter is consulted once per parsed request.
type RateLimiter interface {
	Allow(remoteAddr string) (allowed bool, limit, remaining int, resetUnix int64, retryAfterSeconds int)
}

// Task is a cooperative generator resumed once per HasRequest call —
// used for suspension points such as a
// worker-pool FD-receive step that must not block the poll tick.
type Task interface {
	// Step advances the task by one increment of work. done is true
	// once the task has nothing further to do and may be forgotten.
	Step() (done bool, err error)
}

type queuedItem struct {
	req        *wire.Request
	ref        conn.Ref
	enqueuedAt time.Time
}

// Server is the non-blocking, poll-driven HTTP/1.1 engine. All exported
// methods are safe to call from a single goroutine per the host's tick
// loop; Server does not spawn goroutines of its own.
type Server struct {
	mu sync.Mutex

	cfg Config

	listener   net.Listener
	standalone bool
	running    bool
	shutdown   bool

	pool *conn.Pool
	fds  map[int]conn.Ref

	// unpolled holds connections whose raw descriptor cannot be
	// registered with the poller (TLS sessions, externally-adopted
	// net.Conns, test pipes); they are serviced with a short read
	// deadline on every tick instead.
	unpolled map[conn.Ref]struct{}

	queue   []queuedItem
	pending []queuedItem

	tasks []Task

	static  StaticHandler
	ws      WebSocketHandler
	wsData  WebSocketDataHandler
	wsTick  func()
	limiter RateLimiter

	files *tempfile.Manager

	poller Poller

	metrics Metrics
}

// Metrics receives counters the engine updates as it runs; the root
// facade's Prometheus-backed implementation satisfies this.
type Metrics interface {
	IncAccepted()
	IncRejectedFull()
	IncRequests()
	IncFailedRequests()
	IncClosedConnections()
	IncTimedOutConnections()
	SetActiveConnections(n int)
	RecordRequestDuration(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) IncAccepted()                        {}
func (noopMetrics) IncRejectedFull()                    {}
func (noopMetrics) IncRequests()                        {}
func (noopMetrics) IncFailedRequests()                  {}
func (noopMetrics) IncClosedConnections()               {}
func (noopMetrics) IncTimedOutConnections()             {}
func (noopMetrics) SetActiveConnections(int)            {}
func (noopMetrics) RecordRequestDuration(time.Duration) {}

// New constructs a Server. The listener is bound lazily by Start.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		pool:     conn.New(cfg.MaxConnections),
		fds:      make(map[int]conn.Ref),
		unpolled: make(map[conn.Ref]struct{}),
		files:    tempfile.New(cfg.TempFileDir),
		metrics:  noopMetrics{},
	}
}

// SetTLSConfig installs the TLS configuration wrapped around every
// subsequently accepted connection. Must be called before Start.
func (s *Server) SetTLSConfig(c *tls.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.TLSConfig = c
}

// QueueLen reports how many parsed requests are waiting for the host.
func (s *Server) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// SetMetrics installs the metrics sink. Must be called before Start.
func (s *Server) SetMetrics(m Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m != nil {
		s.metrics = m
	}
}

// AttachStatic installs the static-file handler consulted in the
// request pipeline.
func (s *Server) AttachStatic(h StaticHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = h
}

// AttachWebSocket installs the WebSocket upgrade handler.
func (s *Server) AttachWebSocket(h WebSocketHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ws = h
}

// SetRateLimiter installs the rate limiter consulted in the request
// pipeline.
func (s *Server) SetRateLimiter(rl RateLimiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = rl
}

// SetWebSocketDataHandler installs the handler receiving raw bytes for
// connections adopted into conn.StateWebSocket.
func (s *Server) SetWebSocketDataHandler(h WebSocketDataHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsData = h
}

// SetWebSocketTick installs the per-tick hook run once per HasRequest
// call to drive the WS ping scheduler and purge closed
// connections.
func (s *Server) SetWebSocketTick(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wsTick = fn
}

// RegisterTask adds a cooperative task to be resumed on every
// HasRequest call until it reports done.
func (s *Server) RegisterTask(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Pool exposes the connection pool for collaborators (e.g. the
// WebSocket subsystem adopting a connection) that must live outside
// this package.
func (s *Server) Pool() *conn.Pool { return s.pool }

// ActiveConnections reports the number of live connections, satisfying
// internal/workerpool.ConnCounter for a centralized-dispatch worker's
// heartbeat self-report.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.Len()
}
