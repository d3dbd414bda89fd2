package ws

import (
	"sync"
	"time"

	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wsframe"
)

// ConnState is the WS connection lifecycle state.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

// Message is one reassembled WebSocket message handed to the message
// event hook — either a complete unfragmented frame or the result of
// fragment reassembly.
type Message struct {
	Binary  bool
	Payload []byte
}

// Conn is a WebSocket connection: a stable id, the underlying
// transport Conn/Ref, fragment-reassembly state, per-connection user
// data, and ping/pong timestamps.
type Conn struct {
	mu sync.Mutex

	id  string
	raw *conn.Conn
	ref conn.Ref

	state ConnState

	readBuf []byte

	fragOpcode  wsframe.Opcode
	fragPayload []byte
	fragActive  bool

	userData map[string]any
	rooms    map[string]bool

	lastPingSent time.Time
	lastPongRecv time.Time
	pingOutstanding bool
}

// ID returns the connection's stable identifier.
func (c *Conn) ID() string { return c.id }

// State returns the connection's current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Set/Get store arbitrary per-connection user data.
func (c *Conn) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userData == nil {
		c.userData = make(map[string]any)
	}
	c.userData[key] = v
}

func (c *Conn) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.userData[key]
	return v, ok
}

// Send writes an unfragmented text frame.
func (c *Conn) Send(payload []byte) bool { return c.sendFrame(wsframe.OpText, payload) }

// SendBinary writes an unfragmented binary frame.
func (c *Conn) SendBinary(payload []byte) bool { return c.sendFrame(wsframe.OpBinary, payload) }

func (c *Conn) sendFrame(op wsframe.Opcode, payload []byte) bool {
	return c.raw.Write(wsframe.Encode(op, payload, true))
}
