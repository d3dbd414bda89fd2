// Package evhttp is the embeddable, non-blocking HTTP/1.1 (+TLS) and
// WebSocket server: a host drives it one tick at a time via
// HasRequest/GetRequest/Respond instead of it owning an event loop of
// its own. Engine internals live under internal/; hdr (canonical
// header storage) and multipart (RFC 2046 parsing) are kept importable
// on their own.
package evhttp

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/logging"
	"github.com/badu/evhttp/internal/metrics"
	"github.com/badu/evhttp/internal/ratelimit"
	"github.com/badu/evhttp/internal/server"
	"github.com/badu/evhttp/internal/static"
	"github.com/badu/evhttp/internal/ws"
	"github.com/badu/evhttp/internal/workerpool"
)

// Server is the root facade carrying the full host-facing method set.
type Server struct {
	cfg Config
	eng *server.Server

	log    logging.Logger
	mtx    *metrics.Metrics
	reg    *prometheus.Registry
	static *static.Handler
	wsHub  *ws.Handler
	limit  *ratelimit.Limiter

	workerID int
	master   *workerpool.Master
}

// New constructs a Server from cfg. The listener is not bound until
// Start.
func New(cfg Config) *Server {
	log := logging.New(cfg.Logging)

	eng := server.New(server.Config{
		MaxAcceptsPerCycle:   cfg.MaxAcceptsPerCycle,
		MaxConnections:       cfg.MaxConnections,
		MaxRequestSize:       cfg.MaxRequestSize,
		ReadChunkSize:        cfg.BufferSize,
		RequestTimeout:       cfg.RequestTimeout,
		IdleTimeout:          cfg.ConnectionTimeout,
		KeepAliveEnabled:     cfg.KeepAliveEnable,
		KeepAliveMaxRequests: cfg.KeepAliveMaxRequests,
		KeepAliveTimeout:     cfg.KeepAliveTimeout,
		TempFileDir:          cfg.TempFileDir,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng.SetMetrics(m)

	s := &Server{cfg: cfg, eng: eng, log: log, mtx: m, reg: reg}

	if cfg.PublicPath != "" {
		s.AttachStatic(cfg.PublicPath, StaticOptions{
			CacheEnabled:     cfg.StaticCacheEnable,
			CacheMaxBytes:    cfg.StaticCacheSize,
			CacheMaxEntries:  cfg.StaticCacheMaxEntries,
			EligibleMaxBytes: cfg.StaticCacheMaxEntryBytes,
		})
	}

	if cfg.RateLimitEnable {
		s.limit = ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow)
		eng.SetRateLimiter(s.limit)
	}

	return s
}

// Start binds the configured address and begins accepting connections.
// With TLSEnable set, the certificate/key pair is loaded first; a
// missing or unreadable pair is a Start failure, reported as false the
// same way a failed bind is.
func (s *Server) Start() bool {
	if s.cfg.TLSEnable {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			s.log.Errorf("load TLS key pair: %v", err)
			return false
		}
		s.eng.SetTLSConfig(&tls.Config{Certificates: []tls.Certificate{cert}})
	}
	return s.eng.Start(s.cfg.addr())
}

// StartWithListener starts against an externally-created listener — a
// shared-listen worker's SO_REUSEPORT socket — instead of binding one.
func (s *Server) StartWithListener(ln net.Listener) bool {
	return s.eng.StartWithListener(ln)
}

// Stop closes the listener and drops all connections immediately.
func (s *Server) Stop() { s.eng.Stop() }

// Reset clears all queued/pending state in addition to what Stop does.
func (s *Server) Reset() { s.eng.Reset() }

// Restart stops then starts the server against the same configured
// address, returning false if the subsequent bind fails.
func (s *Server) Restart() bool {
	s.eng.Stop()
	return s.eng.Start(s.cfg.addr())
}

// Shutdown drains in-flight work for up to timeout before force
// stopping; see internal/server.Shutdown.
func (s *Server) Shutdown(timeout time.Duration) bool {
	ok := s.eng.Shutdown(timeout)
	if s.master != nil {
		s.master.Stop()
	}
	return ok
}

// HasRequest is the central per-tick call; never panics
// outward.
func (s *Server) HasRequest() bool { return s.eng.HasRequest() }

// GetRequest pops the next queued request, if any.
func (s *Server) GetRequest() (*Request, Ref, bool) { return s.eng.GetRequest() }

// Respond serializes and writes resp to ref's connection.
func (s *Server) Respond(ref Ref, resp *Response) error {
	return s.eng.Respond(ref, resp)
}

// HasPendingResponse reports whether any request awaits Respond.
func (s *Server) HasPendingResponse() bool { return s.eng.HasPendingResponse() }

// StaticOptions configures AttachStatic; fields left zero take
// internal/static's own defaults.
type StaticOptions struct {
	CacheEnabled     bool
	CacheMaxBytes    int64
	CacheMaxEntries  int
	EligibleMaxBytes int64
}

// AttachStatic installs the static file handler rooted at root
//.
func (s *Server) AttachStatic(root string, opt StaticOptions) {
	s.static = static.New(static.Config{
		Root:             root,
		CacheEnabled:     opt.CacheEnabled,
		CacheMaxBytes:    opt.CacheMaxBytes,
		CacheMaxEntries:  opt.CacheMaxEntries,
		EligibleMaxBytes: opt.EligibleMaxBytes,
	})
	s.eng.AttachStatic(s.static.Serve)
}

// ClearStaticCache drops every cached entry, e.g. after a deploy.
func (s *Server) ClearStaticCache() {
	if s.static != nil {
		s.static.ClearCache()
	}
}

// AttachWebSocket installs the WS subsystem. With cfg.Path set, only
// upgrade requests at that exact path are claimed; upgrades elsewhere
// fall through to the host's request queue like any other request.
func (s *Server) AttachWebSocket(cfg WebSocketConfig) *ws.Handler {
	h := ws.New(ws.Config{
		Protocols:          cfg.Protocols,
		OriginCheckEnabled: cfg.OriginCheckEnabled,
		AllowedOrigins:     cfg.AllowedOrigins,
	}, s.eng.Pool())
	h.SetLogger(wsLoggerAdapter{s.log})
	if cfg.PingInterval > 0 {
		h.SetPingInterval(cfg.PingInterval)
	}
	if cfg.PongTimeout > 0 {
		h.SetPongTimeout(cfg.PongTimeout)
	}

	s.wsHub = h
	s.eng.AttachWebSocket(func(req *Request, c *conn.Conn, ref Ref) bool {
		if cfg.Path != "" && req.Path != cfg.Path {
			return false
		}
		return h.Handshake(req, c, ref)
	})
	s.eng.SetWebSocketDataHandler(h.HandleData)
	s.eng.SetWebSocketTick(h.Tick)
	return h
}

type wsLoggerAdapter struct{ l logging.Logger }

func (a wsLoggerAdapter) Warnf(format string, args ...any) { a.l.Warnf(format, args...) }

// GetMetrics returns a point-in-time snapshot of every engine counter,
// enriched with worker-pool status when a master is attached.
func (s *Server) GetMetrics() Metrics {
	snap := metricsSnapshot{Snapshot: s.mtx.Snapshot()}
	if s.static != nil {
		st := s.static.Stats()
		snap.CacheHits = int64(st.Hits)
		snap.CacheMisses = int64(st.Misses)
		if total := snap.CacheHits + snap.CacheMisses; total > 0 {
			snap.CacheHitRate = 100 * float64(snap.CacheHits) / float64(total)
		}
	}
	snap.QueueSize = s.eng.QueueLen()
	if s.master != nil {
		snap.WorkerPoolAttached = true
		snap.Architecture = string(s.master.ResolvedArchitecture())
		statuses := s.master.Statuses()
		snap.TotalWorkers = len(statuses)
		for _, st := range statuses {
			if st.Running {
				snap.AliveWorkers++
			}
			snap.Workers = append(snap.Workers, WorkerStatus{
				ID: st.ID, PID: st.PID, Connections: st.Connections, Running: st.Running,
			})
		}
	}
	return snap
}

// MetricsRegistry exposes the Prometheus registry backing GetMetrics
// for a host that wants to scrape it directly, without that
// requirement being part of the polled contract.
func (s *Server) MetricsRegistry() *prometheus.Registry { return s.reg }

// ActiveConnections reports the number of live connections, used by a
// centralized-dispatch worker's heartbeat self-report.
func (s *Server) ActiveConnections() int { return s.eng.ActiveConnections() }

// AddExternalConnection adopts a connection delivered by a
// centralized-dispatch worker-pool master over the FD control channel
//, rather than one this Server accepted itself.
func (s *Server) AddExternalConnection(nc net.Conn, remoteAddr, remotePort string) bool {
	return s.eng.AddExternalConnection(nc, remoteAddr, remotePort)
}

// SetWorkerID records which worker index this process is, for a
// worker-pool deployment's diagnostics/logging.
func (s *Server) SetWorkerID(id int) { s.workerID = id }

// WorkerID returns the value last set by SetWorkerID (zero if unset).
func (s *Server) WorkerID() int { return s.workerID }

// RegisterTask adds a cooperative task resumed once per HasRequest
// call — e.g. the FD-receive task a centralized-dispatch worker
// registers to drain its control channel without blocking the poll
// loop.
func (s *Server) RegisterTask(t server.Task) { s.eng.RegisterTask(t) }

// AttachWorkerPool starts a workerpool.Master supervising cfg.Workers
// processes for this Server's configured address, used by the CLI
// entrypoint when worker_pool.enabled is set. Must be called on the
// master process only, before Start.
func (s *Server) AttachWorkerPool(cfg workerpool.Config) error {
	s.master = workerpool.NewMaster(cfg, workerpoolLoggerAdapter{s.log})
	return s.master.Start(s.cfg.addr())
}

type workerpoolLoggerAdapter struct{ l logging.Logger }

func (a workerpoolLoggerAdapter) Infof(format string, args ...any)  { a.l.Infof(format, args...) }
func (a workerpoolLoggerAdapter) Warnf(format string, args ...any)  { a.l.Warnf(format, args...) }
func (a workerpoolLoggerAdapter) Errorf(format string, args ...any) { a.l.Errorf(format, args...) }
