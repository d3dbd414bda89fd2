package ws

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wire"
	"github.com/badu/evhttp/internal/wsframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory net.Conn: reads drain a scripted buffer
// (timing out when empty, like a non-blocking socket with no data) and
// writes accumulate for inspection.
type fakeConn struct {
	mu     sync.Mutex
	rd     bytes.Buffer
	wr     bytes.Buffer
	closed bool
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func (f *fakeConn) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rd.Len() == 0 {
		return 0, timeoutError{}
	}
	return f.rd.Read(b)
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wr.Write(b)
}

func (f *fakeConn) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.wr.Bytes()...)
}

func (f *fakeConn) resetWritten() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wr.Reset()
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr                { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 80} }
func (f *fakeConn) RemoteAddr() net.Addr               { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999} }
func (f *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestHandler(t *testing.T, cfg Config) (*Handler, *conn.Pool) {
	t.Helper()
	pool := conn.New(0)
	return New(cfg, pool), pool
}

func adoptedConn(t *testing.T, h *Handler, pool *conn.Pool) (*Conn, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	ref, raw, ok := pool.Add(fc, "127.0.0.1", "9999")
	require.True(t, ok)
	raw.SetState(conn.StateWebSocket)
	c := h.registry.adopt(raw, ref)
	return c, fc
}

func maskFrame(op wsframe.Opcode, payload []byte, fin bool) []byte {
	key := [4]byte{0x12, 0x34, 0x56, 0x78}
	frame := wsframe.Encode(op, payload, fin)
	headerLen := len(frame) - len(payload)
	out := make([]byte, 0, len(frame)+4)
	out = append(out, frame[0], frame[1]|0x80)
	out = append(out, frame[2:headerLen]...)
	out = append(out, key[:]...)
	for i, b := range payload {
		out = append(out, b^key[i%4])
	}
	return out
}

func decodeWritten(t *testing.T, fc *fakeConn) []wsframe.Frame {
	t.Helper()
	buf := fc.written()
	var frames []wsframe.Frame
	for len(buf) > 0 {
		f, consumed, needMore, err := wsframe.Decode(buf)
		require.NoError(t, err)
		require.False(t, needMore)
		frames = append(frames, f)
		buf = buf[consumed:]
	}
	return frames
}

// TestAcceptKey checks the RFC 6455 §1.3 worked example.
func TestAcceptKey(t *testing.T) {
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKey("dGhlIHNhbXBsZSBub25jZQ=="))
}

func upgradeRequest() *wire.Request {
	h := make(hdr.Header)
	h.Set(hdr.UpgradeHeader, "websocket")
	h.Set(hdr.Connection, "Upgrade")
	h.Set(hdr.SecWebSocketKey, "dGhlIHNhbXBsZSBub25jZQ==")
	h.Set(hdr.SecWebSocketVer, "13")
	return &wire.Request{Method: wire.MethodGet, Path: "/ws", Header: h}
}

func TestHandshakeWrites101(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	fc := &fakeConn{}
	ref, raw, ok := pool.Add(fc, "127.0.0.1", "9999")
	require.True(t, ok)

	var connected *Conn
	h.OnConnect(func(c *Conn) { connected = c })

	require.True(t, h.Handshake(upgradeRequest(), raw, ref))

	out := string(fc.written())
	assert.Contains(t, out, "HTTP/1.1 101 Switching Protocols\r\n")
	assert.Contains(t, out, "Upgrade: websocket\r\n")
	assert.Contains(t, out, "Connection: Upgrade\r\n")
	assert.Contains(t, out, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n")
	assert.Equal(t, conn.StateWebSocket, raw.State())

	require.NotNil(t, connected)
	assert.Equal(t, StateOpen, connected.State())
	assert.NotEmpty(t, connected.ID())
}

func TestHandshakeNegotiatesSubprotocol(t *testing.T) {
	h, pool := newTestHandler(t, Config{Protocols: []string{"chat", "superchat"}})
	fc := &fakeConn{}
	ref, raw, _ := pool.Add(fc, "127.0.0.1", "9999")

	req := upgradeRequest()
	req.Header.Set(hdr.SecWebSocketProto, "superchat, chat")
	h.Handshake(req, raw, ref)

	// The first offered protocol the server supports wins.
	assert.Contains(t, string(fc.written()), "Sec-WebSocket-Protocol: superchat\r\n")
}

func TestHandshakeRejectsDisallowedOrigin(t *testing.T) {
	h, pool := newTestHandler(t, Config{OriginCheckEnabled: true, AllowedOrigins: []string{"https://good.example"}})
	fc := &fakeConn{}
	ref, raw, _ := pool.Add(fc, "127.0.0.1", "9999")

	req := upgradeRequest()
	req.Header.Set(hdr.Origin, "https://evil.example")
	h.Handshake(req, raw, ref)

	assert.Contains(t, string(fc.written()), "HTTP/1.1 403 Forbidden\r\n")
	assert.True(t, fc.closed)
}

func TestHandshakeWildcardOrigin(t *testing.T) {
	h, pool := newTestHandler(t, Config{OriginCheckEnabled: true, AllowedOrigins: []string{"*"}})
	fc := &fakeConn{}
	ref, raw, _ := pool.Add(fc, "127.0.0.1", "9999")

	req := upgradeRequest()
	req.Header.Set(hdr.Origin, "https://anything.example")
	h.Handshake(req, raw, ref)
	assert.Contains(t, string(fc.written()), "101 Switching Protocols")
}

// TestEcho sends a masked text frame in, the host echoes, and the
// client sees the unmasked text frame back.
func TestEcho(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, fc := adoptedConn(t, h, pool)

	h.OnMessage(func(c *Conn, msg Message) { c.Send(msg.Payload) })

	payload := []byte(`{"x":1}`)
	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpText, payload, true))

	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpText, frames[0].Opcode)
	assert.True(t, frames[0].Fin)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestFragmentReassembly(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, _ := adoptedConn(t, h, pool)

	var got []Message
	h.OnMessage(func(_ *Conn, msg Message) { got = append(got, msg) })

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpText, []byte("Hello, "), false))
	assert.Empty(t, got)
	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpContinuation, []byte("wor"), false))
	assert.Empty(t, got)
	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpContinuation, []byte("ld"), true))

	require.Len(t, got, 1)
	assert.False(t, got[0].Binary)
	assert.Equal(t, []byte("Hello, world"), got[0].Payload)
}

func TestDataFrameDuringFragmentIsProtocolError(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, fc := adoptedConn(t, h, pool)

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpText, []byte("part"), false))
	fc.resetWritten()
	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpBinary, []byte("interloper"), true))

	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpClose, frames[0].Opcode)
	code, _ := wsframe.DecodeCloseCode(frames[0].Payload)
	assert.Equal(t, uint16(1002), code)
	assert.Equal(t, StateClosed, c.State())
}

func TestContinuationWithoutFragmentIsProtocolError(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, fc := adoptedConn(t, h, pool)

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpContinuation, []byte("orphan"), true))

	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	code, _ := wsframe.DecodeCloseCode(frames[0].Payload)
	assert.Equal(t, uint16(1002), code)
}

func TestPingEchoedAsPong(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, fc := adoptedConn(t, h, pool)

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpPing, []byte("beat"), true))

	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpPong, frames[0].Opcode)
	assert.Equal(t, []byte("beat"), frames[0].Payload)
}

func TestCloseMirroredAndHooked(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, fc := adoptedConn(t, h, pool)

	var gotCode uint16
	var gotReason string
	h.OnClose(func(_ *Conn, code uint16, reason string) { gotCode, gotReason = code, reason })

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpClose, wsframe.EncodeClose(1001, "bye")[2:], true))

	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpClose, frames[0].Opcode)
	assert.Equal(t, uint16(1001), gotCode)
	assert.Equal(t, "bye", gotReason)
	assert.Equal(t, StateClosed, c.State())
}

func TestPanickyHookDoesNotStopOthers(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, _ := adoptedConn(t, h, pool)

	second := false
	h.OnMessage(func(*Conn, Message) { panic("bad hook") })
	h.OnMessage(func(*Conn, Message) { second = true })

	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpText, []byte("x"), true))
	assert.True(t, second)
}

func TestRoomsAndBroadcast(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	a, fcA := adoptedConn(t, h, pool)
	b, fcB := adoptedConn(t, h, pool)
	_, fcC := adoptedConn(t, h, pool)

	h.JoinRoom(a, "lobby")
	h.JoinRoom(b, "lobby")

	h.BroadcastToRoom("lobby", []byte("hi"), nil)
	assert.NotEmpty(t, fcA.written())
	assert.NotEmpty(t, fcB.written())
	assert.Empty(t, fcC.written())

	fcA.resetWritten()
	fcB.resetWritten()
	h.BroadcastToRoom("lobby", []byte("hi"), a)
	assert.Empty(t, fcA.written())
	assert.NotEmpty(t, fcB.written())

	fcB.resetWritten()
	h.LeaveRoom(b, "lobby")
	h.BroadcastToRoom("lobby", []byte("hi"), nil)
	assert.Empty(t, fcB.written())

	fcA.resetWritten()
	fcB.resetWritten()
	h.Broadcast([]byte("all"), nil)
	assert.NotEmpty(t, fcA.written())
	assert.NotEmpty(t, fcB.written())
	assert.NotEmpty(t, fcC.written())
}

func TestCleanupClosedConnections(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	a, _ := adoptedConn(t, h, pool)
	h.JoinRoom(a, "lobby")

	a.mu.Lock()
	a.state = StateClosed
	a.mu.Unlock()

	h.registry.CleanupClosedConnections()
	_, ok := h.registry.Get(a.ID())
	assert.False(t, ok)

	// A broadcast to the room the closed connection was in reaches no one.
	h.BroadcastToRoom("lobby", []byte("hi"), nil)
}

func TestPingSchedulerSendsAndTimesOut(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	h.SetPingInterval(time.Minute)
	h.SetPongTimeout(10 * time.Millisecond)
	c, fc := adoptedConn(t, h, pool)

	h.Tick()
	frames := decodeWritten(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, wsframe.OpPing, frames[0].Opcode)

	// An answered ping keeps the connection open.
	h.HandleData(c.ref, c.raw, maskFrame(wsframe.OpPong, nil, true))
	fc.resetWritten()
	h.Tick()
	assert.Equal(t, StateOpen, c.State())

	// An unanswered one past the pong timeout closes with 1008.
	c.mu.Lock()
	c.lastPingSent = time.Now().Add(-time.Hour)
	c.lastPongRecv = time.Now().Add(-2 * time.Hour)
	c.pingOutstanding = true
	c.mu.Unlock()

	fc.resetWritten()
	h.Tick()
	frames = decodeWritten(t, fc)
	require.NotEmpty(t, frames)
	code, _ := wsframe.DecodeCloseCode(frames[0].Payload)
	assert.Equal(t, uint16(1008), code)
	assert.Equal(t, StateClosed, c.State())
}

func TestUserData(t *testing.T) {
	h, pool := newTestHandler(t, Config{})
	c, _ := adoptedConn(t, h, pool)

	_, ok := c.Get("user")
	assert.False(t, ok)
	c.Set("user", "alice")
	v, ok := c.Get("user")
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}
