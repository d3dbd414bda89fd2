// Package ws implements the WebSocket subsystem: handshake,
// per-connection fragmentation
// reassembly, ping/pong keepalive, and a registry with rooms and
// broadcast. The frame wire format itself lives in internal/wsframe;
// this package owns connection state and server-side orchestration.
package ws

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/conn"
	"github.com/badu/evhttp/internal/wire"
)

const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// acceptKey computes Sec-WebSocket-Accept per RFC 6455 §1.3.
func acceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + handshakeGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Config governs handshake policy for one Server.
type Config struct {
	// Protocols are the supported Sec-WebSocket-Protocol values. The
	// client's offer is walked in its own order and the first offered
	// value found here is selected; the order of this list does not
	// affect the choice.
	Protocols []string

	// OriginCheckEnabled toggles the Origin allow-list. AllowedOrigins
	// entries match literally; "*" accepts any origin.
	OriginCheckEnabled bool
	AllowedOrigins     []string
}

func (c Config) originAllowed(origin string) bool {
	if !c.OriginCheckEnabled {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (c Config) negotiateProtocol(offered string) (string, bool) {
	if offered == "" || len(c.Protocols) == 0 {
		return "", false
	}
	want := make(map[string]bool, len(c.Protocols))
	for _, p := range c.Protocols {
		want[strings.TrimSpace(p)] = true
	}
	for _, p := range strings.Split(offered, ",") {
		p = strings.TrimSpace(p)
		if want[p] {
			return p, true
		}
	}
	return "", false
}

// Handshake performs the upgrade handshake against req on the
// connection identified by ref, writing the 101 (or, on origin
// rejection, 403) response directly to c. It always claims the
// request: the return value true tells the dispatch chain to stop. On
// rejection the 403 has been written and the socket closed; the caller
// detects that via c.IsValid and reaps the pool entry.
func (h *Handler) Handshake(req *wire.Request, c *conn.Conn, ref conn.Ref) bool {
	origin := req.Header.Get(hdr.Origin)
	if !h.cfg.originAllowed(origin) {
		resp := wire.PlainTextError(403)
		c.Write(wire.Serialize(resp))
		c.Close()
		return true
	}

	clientKey := req.Header.Get(hdr.SecWebSocketKey)
	protocol, _ := h.cfg.negotiateProtocol(req.Header.Get(hdr.SecWebSocketProto))

	out := wire.SerializeUpgrade(acceptKey(clientKey), protocol)
	if !c.Write(out) {
		c.Close()
		return true
	}

	c.ClearBuffer()
	c.SetState(conn.StateWebSocket)
	wsConn := h.registry.adopt(c, ref)
	h.emitConnect(wsConn)
	return true
}
