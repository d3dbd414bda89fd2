package ws

import (
	"time"

	"github.com/badu/evhttp/internal/wsframe"
)

// feed accumulates newly-read bytes and decodes as many complete
// frames as are available, driving h's event hooks. Called from the
// engine's WebSocketDataHandler once per readable tick.
func (h *Handler) feed(c *Conn, data []byte) {
	c.mu.Lock()
	c.readBuf = append(c.readBuf, data...)
	buf := c.readBuf
	c.mu.Unlock()

	for {
		frame, consumed, needMore, err := wsframe.Decode(buf)
		if err != nil {
			h.closeWithCode(c, 1002, "protocol error")
			return
		}
		if needMore {
			break
		}
		buf = buf[consumed:]
		h.dispatchFrame(c, frame)
		if c.State() != StateOpen {
			break
		}
	}

	c.mu.Lock()
	c.readBuf = append([]byte(nil), buf...)
	c.mu.Unlock()
}

func (h *Handler) dispatchFrame(c *Conn, f wsframe.Frame) {
	switch f.Opcode {
	case wsframe.OpPing:
		c.raw.Write(wsframe.EncodePong(f.Payload))

	case wsframe.OpPong:
		c.mu.Lock()
		c.lastPongRecv = time.Now()
		c.pingOutstanding = false
		c.mu.Unlock()

	case wsframe.OpClose:
		h.handleClose(c, f.Payload)

	case wsframe.OpText, wsframe.OpBinary:
		h.handleDataFrame(c, f)

	case wsframe.OpContinuation:
		h.handleContinuation(c, f)
	}
}

func (h *Handler) handleDataFrame(c *Conn, f wsframe.Frame) {
	c.mu.Lock()
	if c.fragActive {
		c.mu.Unlock()
		h.closeWithCode(c, 1002, "protocol error: data frame while fragment open")
		return
	}
	if f.Fin {
		c.mu.Unlock()
		h.emitMessage(c, Message{Binary: f.Opcode == wsframe.OpBinary, Payload: f.Payload})
		return
	}
	c.fragActive = true
	c.fragOpcode = f.Opcode
	c.fragPayload = append([]byte(nil), f.Payload...)
	c.mu.Unlock()
}

func (h *Handler) handleContinuation(c *Conn, f wsframe.Frame) {
	c.mu.Lock()
	if !c.fragActive {
		c.mu.Unlock()
		h.closeWithCode(c, 1002, "protocol error: continuation without open fragment")
		return
	}
	c.fragPayload = append(c.fragPayload, f.Payload...)
	if !f.Fin {
		c.mu.Unlock()
		return
	}
	opcode := c.fragOpcode
	payload := c.fragPayload
	c.fragActive = false
	c.fragPayload = nil
	c.mu.Unlock()

	h.emitMessage(c, Message{Binary: opcode == wsframe.OpBinary, Payload: payload})
}

func (h *Handler) handleClose(c *Conn, payload []byte) {
	code, reason := wsframe.DecodeCloseCode(payload)
	if c.State() == StateOpen {
		c.raw.Write(wsframe.EncodeClose(code, reason))
	}
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	h.emitClose(c, code, reason)
}

// closeWithCode closes c with the given RFC 6455 close code, used for
// protocol violations.
func (h *Handler) closeWithCode(c *Conn, code uint16, reason string) {
	c.raw.Write(wsframe.EncodeClose(code, reason))
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	h.emitClose(c, code, reason)
}
