package workerpool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/badu/evhttp/internal/fdchannel"
)

// Logger is the small port the master logs through, satisfied by
// internal/logging.Logger.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Master supervises a fixed-size pool of worker processes, reaping
// and (if AutoRestart) respawning any that
// exit, and — under ArchitectureCentralized — accepting connections
// itself and dispatching their file descriptors to workers chosen by a
// balancer.
type Master struct {
	cfg Config
	log Logger

	addr     string
	resolved Architecture

	mu      sync.Mutex
	workers []*workerHandle
	bal     balancer

	listener net.Listener

	stopping chan struct{}
	stopOnce sync.Once
}

// NewMaster resolves cfg.Architecture (probing SO_REUSEPORT support for
// ArchitectureAuto) and returns an unstarted Master.
func NewMaster(cfg Config, log Logger) *Master {
	cfg = cfg.withDefaults()
	if log == nil {
		log = noopLogger{}
	}

	resolved := cfg.Architecture
	if resolved == ArchitectureAuto {
		if probeSharedListenSupported() {
			resolved = ArchitectureSharedListen
		} else {
			resolved = ArchitectureCentralized
		}
	}

	return &Master{
		cfg:      cfg,
		log:      log,
		resolved: resolved,
		bal:      newBalancer(cfg.Balancer),
		stopping: make(chan struct{}),
	}
}

// ResolvedArchitecture reports the architecture actually in effect,
// after ArchitectureAuto resolution.
func (m *Master) ResolvedArchitecture() Architecture { return m.resolved }

// Start binds addr (ArchitectureCentralized only — under
// ArchitectureSharedListen each worker binds it independently) and
// spawns cfg.Workers worker processes.
func (m *Master) Start(addr string) error {
	m.mu.Lock()
	m.addr = addr
	m.mu.Unlock()

	if m.resolved == ArchitectureCentralized {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "workerpool: bind master listener")
		}
		m.mu.Lock()
		m.listener = ln
		m.mu.Unlock()
	}

	for i := 0; i < m.cfg.Workers; i++ {
		if err := m.spawnAndTrack(i, addr); err != nil {
			return err
		}
	}

	if m.resolved == ArchitectureCentralized {
		go m.acceptLoop()
	}
	go m.reapLoop()

	return nil
}

func (m *Master) spawnAndTrack(id int, addr string) error {
	env := []string{"EVHTTP_WORKER_ADDR=" + addr, "EVHTTP_WORKER_ARCH=" + string(m.resolved)}

	var pair *fdchannel.Pair
	if m.resolved == ArchitectureCentralized {
		p, err := fdchannel.NewPair()
		if err != nil {
			return errors.Wrap(err, "workerpool: create control socketpair")
		}
		pair = p
	}

	w, err := spawnWorker(id, env, pair)
	if err != nil {
		return errors.Wrapf(err, "workerpool: spawn worker %d", id)
	}

	m.mu.Lock()
	m.workers = append(m.workers, w)
	m.mu.Unlock()
	m.log.Infof("worker %d started", id)
	m.startHeartbeatReader(w)
	return nil
}

// reapLoop watches every worker's exit channel and, if AutoRestart is
// set, respawns it after RestartDelay.
func (m *Master) reapLoop() {
	for {
		m.mu.Lock()
		handles := append([]*workerHandle(nil), m.workers...)
		m.mu.Unlock()

		if len(handles) == 0 {
			return
		}

		w := waitAny(m.stopping, handles)
		if w == nil {
			return
		}

		m.log.Warnf("worker %d exited", w.id)
		if !m.cfg.AutoRestart {
			continue
		}

		select {
		case <-m.stopping:
			return
		case <-time.After(m.cfg.RestartDelay):
		}

		m.mu.Lock()
		for i, h := range m.workers {
			if h.id == w.id {
				m.workers = append(m.workers[:i], m.workers[i+1:]...)
				break
			}
		}
		m.mu.Unlock()

		if err := m.spawnAndTrack(w.id, m.addr); err != nil {
			m.log.Errorf("restart worker %d: %v", w.id, err)
		}
	}
}

// waitAny blocks until either stop fires (returns nil) or any worker in
// handles exits (returns that handle).
func waitAny(stop <-chan struct{}, handles []*workerHandle) *workerHandle {
	result := make(chan *workerHandle, 1)
	var once sync.Once
	for _, h := range handles {
		h := h
		go func() {
			select {
			case <-h.done:
				once.Do(func() { result <- h })
			case <-stop:
			}
		}()
	}
	select {
	case w := <-result:
		return w
	case <-stop:
		return nil
	}
}

// acceptLoop drives ArchitectureCentralized: accept on the master's own
// listener and dispatch each connection's descriptor to a worker chosen
// by the balancer.
func (m *Master) acceptLoop() {
	for {
		m.mu.Lock()
		ln := m.listener
		m.mu.Unlock()
		if ln == nil {
			return
		}

		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-m.stopping:
				return
			default:
			}
			continue
		}
		m.dispatch(nc)
	}
}

func (m *Master) dispatch(nc net.Conn) {
	tcp, ok := nc.(*net.TCPConn)
	if !ok {
		nc.Close()
		return
	}

	m.mu.Lock()
	w := m.bal.next(m.workers)
	m.mu.Unlock()

	if w == nil || w.controlNet == nil {
		m.log.Warnf("no worker available for dispatch, dropping connection")
		nc.Close()
		return
	}

	f, err := tcp.File()
	if err != nil {
		nc.Close()
		return
	}
	defer f.Close()
	nc.Close() // the dup'd fd in f keeps the socket alive

	host, _, _ := net.SplitHostPort(tcp.RemoteAddr().String())
	meta := fdchannel.Metadata{WorkerID: w.id, ClientIP: host}
	if err := fdchannel.Send(w.controlNet, int(f.Fd()), meta); err != nil {
		m.log.Errorf("dispatch to worker %d: %v", w.id, err)
		return
	}
	w.conns.Add(1)
}

// Stop signals every worker to exit and waits up to cfg.ShutdownGrace
// before giving up, returning the aggregated error from any worker that
// failed to terminate cleanly.
func (m *Master) Stop() error {
	m.stopOnce.Do(func() { close(m.stopping) })

	m.mu.Lock()
	ln := m.listener
	handles := append([]*workerHandle(nil), m.workers...)
	m.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	for _, w := range handles {
		if w.cmd != nil && w.cmd.Process != nil {
			w.cmd.Process.Signal(terminateSignalValue())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownGrace)
	defer cancel()

	var result *multierror.Error
	for _, w := range handles {
		select {
		case <-w.done:
		case <-ctx.Done():
			if w.cmd != nil && w.cmd.Process != nil {
				w.cmd.Process.Kill()
			}
			result = multierror.Append(result, context.DeadlineExceeded)
		}
	}
	return result.ErrorOrNil()
}

// Statuses returns a point-in-time snapshot of every supervised worker.
func (m *Master) Statuses() []WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]WorkerStatus, 0, len(m.workers))
	for _, w := range m.workers {
		pid := 0
		if w.cmd != nil && w.cmd.Process != nil {
			pid = w.cmd.Process.Pid
		}
		out = append(out, WorkerStatus{
			ID:          w.id,
			PID:         pid,
			Connections: w.connCount(),
			Running:     w.alive(),
		})
	}
	return out
}
