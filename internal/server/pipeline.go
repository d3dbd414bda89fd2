package server

import (
	"strconv"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wire"
)

// processFramedLocked runs the request pipeline once c's buffer
// contains a complete header block: frame, validate, then offer the
// request to the WS/rate-limit/static handlers before queueing it for
// the host.
func (s *Server) processFramedLocked(ref conn.Ref, c *conn.Conn) {
	headerBlock, body, ok := wire.SplitHeadersAndBody(c.Buffer())
	if !ok {
		return
	}

	h, expected, cached := c.CachedHeader()
	if !cached {
		_, _, _, _, parsedHeader, parseErr := wire.ParseHeadersOnly(headerBlock)
		if parseErr != nil {
			s.respondImmediateAndClose(ref, c, wire.PlainTextError(400))
			return
		}
		h = parsedHeader
		expected = wire.GetContentLength(h)
		c.SetCachedHeader(h, expected)
	}

	// Size is judged from the announced Content-Length, before waiting
	// on a body that may never be sent in full.
	if expected > s.cfg.MaxRequestSize {
		s.respondImmediateAndClose(ref, c, wire.PlainTextError(413))
		return
	}

	if int64(len(body)) < expected {
		c.SetState(conn.StateReadingBody)
		if c.IsRequestTimedOut(s.cfg.RequestTimeout) {
			s.respondImmediateAndClose(ref, c, wire.PlainTextError(408))
		}
		return
	}

	remoteAddr, remotePort := c.RemoteAddr(), c.RemotePort()
	req, err := wire.ParseRequest(headerBlock, body[:expected], s.files, remoteAddr, remotePort)
	if err != nil {
		s.respondImmediateAndClose(ref, c, wire.PlainTextError(400))
		return
	}

	// Bytes past the framed request belong to a pipelined successor.
	remainder := append([]byte(nil), body[expected:]...)

	if wire.IsWebSocketUpgrade(req) && s.ws != nil {
		if s.ws(req, c, ref) {
			c.ClearBuffer()
			if !c.IsValid() {
				// Handshake refused (e.g. origin) and closed the socket.
				s.closeConnLocked(ref, c)
			}
			return
		}
	}

	if s.limiter != nil {
		allowed, limit, _, resetUnix, retryAfter := s.limiter.Allow(remoteAddr)
		if !allowed {
			resp := wire.PlainTextError(429)
			resp.Header.Set(hdr.RetryAfter, strconv.Itoa(retryAfter))
			resp.Header.Set(hdr.XRateLimitLimit, strconv.Itoa(limit))
			resp.Header.Set(hdr.XRateLimitRemain, "0")
			resp.Header.Set(hdr.XRateLimitReset, strconv.FormatInt(resetUnix, 10))
			c.ResetForNextRequest(remainder)
			s.respondImmediate(ref, c, resp)
			return
		}
	}

	if s.static != nil {
		if resp, ok := s.static(req); ok {
			c.ResetForNextRequest(remainder)
			s.respondImmediate(ref, c, resp)
			return
		}
	}

	c.ResetForNextRequest(remainder)
	keepAlive := s.cfg.KeepAliveEnabled &&
		headerContainsToken(h.Get(hdr.Connection), "keep-alive") &&
		c.RequestCount() < s.cfg.KeepAliveMaxRequests
	c.SetKeepalive(keepAlive)
	c.SetState(conn.StateInQueue)

	s.queue = append(s.queue, queuedItem{req: req, ref: ref, enqueuedAt: time.Now()})
}

func headerContainsToken(v, token string) bool {
	for _, part := range splitComma(v) {
		if equalFold(trimSpace(part), token) {
			return true
		}
	}
	return false
}

// respondImmediate serializes and writes resp directly, bypassing the
// queue/pending-response bookkeeping — used for handler-resolved
// (static file, rate-limit) responses, which the host never
// sees via GetRequest/Respond. The caller has already reset the
// connection's buffer for the next request.
func (s *Server) respondImmediate(ref conn.Ref, c *conn.Conn, resp *wire.Response) {
	s.recordResponseMetricsLocked(resp.Status)
	if !s.writeResponse(ref, c, resp) {
		return
	}
	if resp.Header.Get(hdr.Connection) == "close" {
		s.closeConnLocked(ref, c)
		return
	}
	c.IncrementRequestCount()
	c.SetState(conn.StateIdleKeepalive)
	s.framePipelinedLocked(ref, c)
}

// framePipelinedLocked processes a pipelined successor request whose
// bytes are already fully buffered — no further read event will arrive
// to trigger the pipeline for it.
func (s *Server) framePipelinedLocked(ref conn.Ref, c *conn.Conn) {
	if wire.HasCompleteHeaders(c.Buffer()) {
		s.processFramedLocked(ref, c)
	}
}

// writeResponse writes resp to c, taking the streamed path when resp
// carries a BodyReader. Returns false and closes the connection
// on any write failure.
func (s *Server) writeResponse(ref conn.Ref, c *conn.Conn, resp *wire.Response) bool {
	if resp.Closer != nil {
		defer resp.Closer.Close()
	}
	if !resp.Streamed() {
		if !c.Write(wire.Serialize(resp)) {
			s.closeConnLocked(ref, c)
			return false
		}
		return true
	}

	if !c.Write(wire.SerializeHeader(resp)) {
		s.closeConnLocked(ref, c)
		return false
	}
	scratch := make([]byte, 32<<10)
	for {
		n, err := resp.BodyReader.Read(scratch)
		if n > 0 {
			if !c.Write(scratch[:n]) {
				s.closeConnLocked(ref, c)
				return false
			}
		}
		if err != nil {
			return true
		}
	}
}

func (s *Server) respondImmediateAndClose(ref conn.Ref, c *conn.Conn, resp *wire.Response) {
	s.recordResponseMetricsLocked(resp.Status)
	c.Write(wire.Serialize(resp))
	s.closeConnLocked(ref, c)
}

func splitComma(v string) []string {
	var out []string
	start := 0
	for i := 0; i < len(v); i++ {
		if v[i] == ',' {
			out = append(out, v[start:i])
			start = i + 1
		}
	}
	out = append(out, v[start:])
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
