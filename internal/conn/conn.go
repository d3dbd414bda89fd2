// Package conn implements the per-client connection wrapper and the
// bounded connection pool. Unlike a net/http-style server, which parks
// a goroutine in a blocking read per connection, a conn.Conn here is
// read once per host tick, after the poller reported it readable or,
// for connections the poller cannot track, unconditionally. Read is
// bounded by a short deadline and never waits for data; Write writes
// the whole buffer and sets no deadline.
package conn

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/badu/evhttp/hdr"
)

// State enumerates the connection lifecycle; a Conn is in exactly one
// of these at any time.
type State int

const (
	StateReadingHeaders State = iota
	StateReadingBody
	StateInQueue
	StateAwaitingResponse
	StateWritingResponse
	StateIdleKeepalive
	StateClosed

	// StateWebSocket marks a connection adopted by the WebSocket
	// subsystem after a successful upgrade handshake: the
	// engine stops HTTP-framing its reads and instead forwards raw
	// bytes to the registered WebSocket data handler.
	StateWebSocket
)

// Conn is a live TCP (or TLS) session with one remote peer, owned
// exclusively by a Pool. The request queue and pending-response map hold
// only Refs, never *Conn, so a Conn's lifetime is fully controlled by
// the pool that created it.
type Conn struct {
	mu sync.Mutex

	rwc        net.Conn
	remoteAddr string
	remotePort string

	buf []byte

	lastActivity    time.Time
	requestStarted  bool
	requestStart    time.Time
	requestCount    int
	keepalive       bool

	cachedHeader      hdr.Header
	expectedBodyLen   int64

	state  State
	closed bool

	slot       int
	generation uint64

	file *os.File // duplicate fd kept alive for poller registration
}

// Fd returns a raw file descriptor duplicating the connection's socket,
// suitable for registering with an internal/server.Poller. Returns ok
// = false for connection types that don't support it (e.g. in tests
// using net.Pipe).
func (c *Conn) Fd() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.file != nil {
		return int(c.file.Fd()), true
	}
	type hasFile interface{ File() (*os.File, error) }
	hf, ok := c.rwc.(hasFile)
	if !ok {
		return 0, false
	}
	f, err := hf.File()
	if err != nil {
		return 0, false
	}
	c.file = f
	return int(f.Fd()), true
}

// Read performs a single non-blocking read into a scratch buffer of up
// to n bytes. A short read deadline bounds the call even when the
// caller's readiness information is stale (or absent, for connections
// the poller cannot track); a deadline expiry yields empty data, not a
// close. ok is false on EOF or a fatal error — the server treats
// false as "close this connection".
func (c *Conn) Read(n int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false
	}
	c.rwc.SetReadDeadline(time.Now().Add(time.Millisecond))
	scratch := make([]byte, n)
	read, err := c.rwc.Read(scratch)
	if read > 0 {
		c.lastActivity = time.Now()
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return scratch[:read], true
		}
		if read == 0 {
			return nil, false
		}
		// Short read paired with an error is still usable data; the
		// caller observes EOF on the next call.
		return scratch[:read], true
	}
	return scratch[:read], true
}

// Write writes the full buffer to the socket. Returns false on any
// write error, signalling the caller to close the connection.
func (c *Conn) Write(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	_, err := c.rwc.Write(b)
	if err != nil {
		return false
	}
	c.lastActivity = time.Now()
	return true
}

// AppendToBuffer accumulates partial request bytes between non-blocking
// read cycles.
func (c *Conn) AppendToBuffer(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, b...)
}

// Buffer returns the connection's accumulated, not-yet-framed bytes.
func (c *Conn) Buffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf
}

// ClearBuffer discards the accumulated bytes and any cached header
// metadata, preparing the connection for its next request.
func (c *Conn) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = nil
	c.cachedHeader = nil
	c.expectedBodyLen = 0
	c.requestStarted = false
}

// ResetForNextRequest is ClearBuffer for a pipelining client: bytes
// that arrived beyond the just-framed request are kept as the start of
// the next one instead of being discarded.
func (c *Conn) ResetForNextRequest(remainder []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = remainder
	c.cachedHeader = nil
	c.expectedBodyLen = 0
	c.requestStarted = len(remainder) > 0
	if len(remainder) > 0 {
		c.requestStart = time.Now()
	}
}

// SetCachedHeader stashes the headers once framed, so subsequent poll
// ticks don't re-parse the same bytes while waiting for the body.
func (c *Conn) SetCachedHeader(h hdr.Header, expectedBodyLen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedHeader = h
	c.expectedBodyLen = expectedBodyLen
}

// CachedHeader returns the previously framed headers, if any.
func (c *Conn) CachedHeader() (hdr.Header, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedHeader, c.expectedBodyLen, c.cachedHeader != nil
}

// StartRequestTimer records the arrival of a request's first bytes.
func (c *Conn) StartRequestTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestStarted = true
	c.requestStart = time.Now()
}

// IsRequestTimedOut reports whether the in-flight request has exceeded
// timeout. False if no request is in progress.
func (c *Conn) IsRequestTimedOut(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.requestStarted || timeout <= 0 {
		return false
	}
	return time.Since(c.requestStart) > timeout
}

// IsIdleTimedOut reports whether this connection has had no read/write
// activity for longer than timeout.
func (c *Conn) IsIdleTimedOut(timeout time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout <= 0 {
		return false
	}
	return time.Since(c.lastActivity) > timeout
}

// SetKeepalive resolves whether the connection survives past the
// current response.
func (c *Conn) SetKeepalive(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepalive = v
}

// IsKeepalive reports the resolved keep-alive decision for the request
// currently being answered.
func (c *Conn) IsKeepalive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepalive
}

// RequestCount returns how many requests have completed on this
// connection.
func (c *Conn) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCount
}

// IncrementRequestCount marks one more request as served.
func (c *Conn) IncrementRequestCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestCount++
}

// SetState records c's current lifecycle state.
func (c *Conn) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns c's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsValid reports whether the underlying socket is still open.
func (c *Conn) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// RemoteAddr and RemotePort report the peer's address, captured at accept time.
func (c *Conn) RemoteAddr() string { return c.remoteAddr }
func (c *Conn) RemotePort() string { return c.remotePort }

// Close tears down the underlying socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.state = StateClosed
	if c.file != nil {
		c.file.Close()
	}
	return c.rwc.Close()
}
