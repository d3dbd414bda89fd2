package server

import (
	"net"
	"time"

	"github.com/badu/evhttp/internal/conn"
)

// Shutdown drains the engine: stop accepting, then poll in
// a loop (reading from existing connections, evicting timed-out ones)
// until the queue, pending responses, and active connections have all
// drained, or timeout expires — in which case it force-stops and
// returns false.
func (s *Server) Shutdown(timeout time.Duration) bool {
	s.mu.Lock()
	s.shutdown = true
	if s.listener != nil {
		s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		s.pollReadableLocked()
		s.evictTimedOutLocked()
		drained := len(s.queue) == 0 && len(s.pending) == 0 && s.pool.Len() == 0
		s.mu.Unlock()
		if drained {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()
	return false
}

// AddExternalConnection adopts a connection handed to this worker by a
// centralized-dispatch master over the FD-passing control channel
//, rather than accepted directly by this Server's
// own listener. ok is false if the pool is at capacity.
func (s *Server) AddExternalConnection(nc net.Conn, remoteAddr, remotePort string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poller == nil {
		poller, err := newPlatformPoller()
		if err != nil {
			return false
		}
		s.poller = poller
	}

	ref, c, ok := s.pool.Add(nc, remoteAddr, remotePort)
	if !ok {
		s.metrics.IncRejectedFull()
		return false
	}
	s.metrics.IncAccepted()
	c.SetState(conn.StateReadingHeaders)
	if fd, ok := c.Fd(); ok {
		s.poller.Add(fd)
		s.fds[fd] = ref
	} else {
		s.unpolled[ref] = struct{}{}
	}
	s.running = true
	return true
}
