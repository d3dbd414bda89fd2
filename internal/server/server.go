package server

import (
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wire"
)

// Start binds addr, sets the listener non-blocking (accept calls use a
// deadline-based non-blocking idiom rather than requiring a raw fd),
// and returns false on any failure — failure is reported, never
// thrown, so a host may continue without HTTP.
func (s *Server) Start(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	return s.adoptListenerLocked(ln)
}

// StartWithListener starts the engine against an externally-created
// listener — a shared-listen worker's SO_REUSEPORT socket, or a test's
// pre-bound one — instead of binding its own.
func (s *Server) StartWithListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adoptListenerLocked(ln)
}

func (s *Server) adoptListenerLocked(ln net.Listener) bool {
	poller, err := newPlatformPoller()
	if err != nil {
		ln.Close()
		return false
	}

	s.listener = ln
	s.poller = poller
	s.standalone = true
	s.running = true
	s.shutdown = false
	return true
}

// Stop closes the listener and drops all connections immediately.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Server) stopLocked() {
	s.running = false
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	if s.poller != nil {
		s.poller.Close()
		s.poller = nil
	}
	s.pool.Each(func(ref conn.Ref, c *conn.Conn) {
		s.pool.Remove(ref)
	})
	s.fds = make(map[int]conn.Ref)
	s.unpolled = make(map[conn.Ref]struct{})
}

// Reset clears the request queue, pending responses, temp files, and
// (via the caller re-attaching it) the static cache, in addition to
// everything Stop does.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.queue = nil
	s.pending = nil
	s.files.Cleanup()
}

// HasRequest is the central per-tick operation: resume tasks, accept,
// read, frame, evict, then report whether a request awaits the host.
// It never panics: internal errors are swallowed and reported as
// false.
func (s *Server) HasRequest() (result bool) {
	defer func() {
		if recover() != nil {
			result = false
		}
	}()

	// Tasks run before the lock is taken: a task hands work back to the
	// server (AddExternalConnection) and must be able to re-enter it.
	s.resumeTasks()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running && !s.shutdown && s.standalone {
		s.acceptCycleLocked()
	}

	s.pollReadableLocked()
	s.sweepRequestTimeoutsLocked()
	s.evictTimedOutLocked()

	if s.wsTick != nil {
		s.wsTick()
	}

	return len(s.queue) > 0
}

func (s *Server) resumeTasks() {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()
	if len(tasks) == 0 {
		return
	}

	var dead []Task
	for _, t := range tasks {
		if done := safeStep(t); done {
			dead = append(dead, t)
		}
	}
	if len(dead) == 0 {
		return
	}

	s.mu.Lock()
	alive := s.tasks[:0]
	for _, t := range s.tasks {
		finished := false
		for _, d := range dead {
			if t == d {
				finished = true
				break
			}
		}
		if !finished {
			alive = append(alive, t)
		}
	}
	s.tasks = alive
	s.mu.Unlock()
}

// safeStep resumes one cooperative task, treating a panic the same as a
// terminal error — the task is dropped, the server continues.
func safeStep(t Task) (finished bool) {
	defer func() {
		if recover() != nil {
			finished = true
		}
	}()
	done, err := t.Step()
	return done || err != nil
}

func (s *Server) acceptCycleLocked() {
	if s.listener == nil {
		return
	}
	dl, hasDeadline := s.listener.(interface{ SetDeadline(time.Time) error })
	for i := 0; i < s.cfg.MaxAcceptsPerCycle; i++ {
		if hasDeadline {
			dl.SetDeadline(time.Now().Add(time.Millisecond))
		}
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.registerAcceptedLocked(nc)
	}
}

func (s *Server) registerAcceptedLocked(nc net.Conn) {
	host, port, _ := net.SplitHostPort(nc.RemoteAddr().String())
	if s.cfg.TLSConfig != nil {
		nc = tls.Server(nc, s.cfg.TLSConfig)
	}
	ref, c, ok := s.pool.Add(nc, host, port)
	if !ok {
		s.metrics.IncRejectedFull()
		nc.Close()
		return
	}
	s.metrics.IncAccepted()
	c.SetState(conn.StateReadingHeaders)
	if fd, ok := c.Fd(); ok {
		s.poller.Add(fd)
		s.fds[fd] = ref
	} else {
		s.unpolled[ref] = struct{}{}
	}
}

func (s *Server) pollReadableLocked() {
	if s.poller != nil {
		ready, err := s.poller.Wait(0)
		if err == nil {
			for _, fd := range ready {
				ref, ok := s.fds[fd]
				if !ok {
					continue
				}
				s.serviceReadableLocked(ref)
			}
		}
	}

	// Connections with no pollable descriptor fall back to a short
	// deadline-guarded read attempt every tick.
	if len(s.unpolled) > 0 {
		refs := make([]conn.Ref, 0, len(s.unpolled))
		for ref := range s.unpolled {
			refs = append(refs, ref)
		}
		for _, ref := range refs {
			s.serviceReadableLocked(ref)
		}
	}

	s.metrics.SetActiveConnections(s.pool.Len())
}

func (s *Server) serviceReadableLocked(ref conn.Ref) {
	c, ok := s.pool.Get(ref)
	if !ok {
		// Closed behind the engine's back (e.g. by the WS subsystem).
		delete(s.unpolled, ref)
		return
	}
	b, ok := c.Read(s.cfg.ReadChunkSize)
	if !ok {
		s.closeConnLocked(ref, c)
		return
	}
	if len(b) == 0 {
		return
	}

	if c.State() == conn.StateWebSocket {
		if s.wsData != nil {
			s.wsData(ref, c, b)
		}
		return
	}

	// The request-read clock starts at the request's first byte and is
	// cleared when its response completes.
	if len(c.Buffer()) == 0 {
		c.StartRequestTimer()
		c.SetState(conn.StateReadingHeaders)
	}
	c.AppendToBuffer(b)

	if !wire.HasCompleteHeaders(c.Buffer()) {
		return
	}
	s.processFramedLocked(ref, c)
}

func (s *Server) closeConnLocked(ref conn.Ref, c *conn.Conn) {
	if fd, ok := c.Fd(); ok && s.poller != nil {
		s.poller.Remove(fd)
		delete(s.fds, fd)
	}
	delete(s.unpolled, ref)
	s.pool.Remove(ref)
	s.metrics.IncClosedConnections()
	s.removePendingOrQueuedLocked(ref)
}

func (s *Server) removePendingOrQueuedLocked(ref conn.Ref) {
	filtered := s.queue[:0]
	for _, item := range s.queue {
		if item.ref != ref {
			filtered = append(filtered, item)
		}
	}
	s.queue = filtered

	filteredPending := s.pending[:0]
	for _, item := range s.pending {
		if item.ref != ref {
			filteredPending = append(filteredPending, item)
		}
	}
	s.pending = filteredPending
}

// sweepRequestTimeoutsLocked answers 408 on connections whose in-flight
// request has been arriving for longer than RequestTimeout — the
// pipeline only runs when new bytes land, so a stalled sender is caught
// here instead.
func (s *Server) sweepRequestTimeoutsLocked() {
	if s.cfg.RequestTimeout <= 0 {
		return
	}
	var timedOut []conn.Ref
	s.pool.Each(func(ref conn.Ref, c *conn.Conn) {
		switch c.State() {
		case conn.StateReadingHeaders, conn.StateReadingBody:
			if c.IsRequestTimedOut(s.cfg.RequestTimeout) {
				timedOut = append(timedOut, ref)
			}
		}
	})
	for _, ref := range timedOut {
		if c, ok := s.pool.Get(ref); ok {
			s.respondImmediateAndClose(ref, c, wire.PlainTextError(408))
		}
	}
}

func (s *Server) evictTimedOutLocked() {
	removed := s.pool.RemoveTimedOut(s.cfg.IdleTimeout)
	for _, ref := range removed {
		s.metrics.IncTimedOutConnections()
		s.removePendingOrQueuedLocked(ref)
		delete(s.unpolled, ref)
	}
	if len(removed) > 0 {
		for fd, r := range s.fds {
			for _, dead := range removed {
				if r == dead {
					s.poller.Remove(fd)
					delete(s.fds, fd)
				}
			}
		}
	}
}

// GetRequest pops the head of the queue, moving its connection-ref into
// the pending-responses set. ok is false if the queue is empty.
func (s *Server) GetRequest() (*wire.Request, conn.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, conn.Ref{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]

	if !s.pool.Valid(item.ref) {
		return nil, conn.Ref{}, false
	}
	if c, ok := s.pool.Get(item.ref); ok {
		c.SetState(conn.StateAwaitingResponse)
	}
	s.pending = append(s.pending, item)
	return item.req, item.ref, true
}

// HasPendingResponse reports whether any request awaits Respond.
func (s *Server) HasPendingResponse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Respond serializes and writes resp to ref's connection, resolving
// keep-alive policy and closing or re-arming the socket. A stale ref
// (connection already closed) is silently dropped.
func (s *Server) Respond(ref conn.Ref, resp *wire.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, tracked := s.popPendingLocked(ref)

	c, ok := s.pool.Get(ref)
	if !ok {
		return nil
	}

	if resp.Header == nil {
		resp.Header = make(hdr.Header)
	}
	keepAlive := s.cfg.KeepAliveEnabled && !s.shutdown &&
		c.IsKeepalive() && c.RequestCount() < s.cfg.KeepAliveMaxRequests
	if keepAlive {
		resp.Header.Set(hdr.Connection, "keep-alive")
		remaining := s.cfg.KeepAliveMaxRequests - c.RequestCount()
		resp.Header.Set(hdr.KeepAlive, "timeout="+strconv.Itoa(int(s.cfg.KeepAliveTimeout.Seconds()))+", max="+strconv.Itoa(remaining))
	} else {
		resp.Header.Set(hdr.Connection, "close")
	}

	c.SetState(conn.StateWritingResponse)
	wrote := s.writeResponse(ref, c, resp)

	s.recordResponseMetricsLocked(resp.Status)
	if tracked {
		s.metrics.RecordRequestDuration(time.Since(item.enqueuedAt))
		// Uploads the host did not claim with MoveTo die with the request.
		for _, fhs := range item.req.Uploaded {
			for _, fh := range fhs {
				fh.Discard()
			}
		}
	}
	if !wrote {
		return nil
	}

	if !keepAlive {
		s.closeConnLocked(ref, c)
		return nil
	}

	c.IncrementRequestCount()
	c.SetState(conn.StateIdleKeepalive)
	s.framePipelinedLocked(ref, c)
	return nil
}

func (s *Server) recordResponseMetricsLocked(status int) {
	if status >= 400 {
		s.metrics.IncFailedRequests()
	} else {
		s.metrics.IncRequests()
	}
}

func (s *Server) popPendingLocked(ref conn.Ref) (queuedItem, bool) {
	for i, item := range s.pending {
		if item.ref == ref {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return item, true
		}
	}
	return queuedItem{}, false
}
