package wire

import (
	"fmt"
	"strconv"

	"github.com/badu/evhttp/hdr"
	"github.com/valyala/bytebufferpool"
)

// Serialize writes resp in wire format: status line, ordered headers, a
// blank line, then the body. If Content-Length is absent it is computed
// from len(Body) and added — this codec never produces chunked
// output.
func Serialize(resp *Response) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", resp.Status, reasonPhrase(resp.Status))

	h := resp.Header
	if h == nil {
		h = make(hdr.Header)
	}
	if h.Get(hdr.ContentLength) == "" {
		h.Set(hdr.ContentLength, strconv.Itoa(len(resp.Body)))
	}
	h.Write(buf)
	buf.WriteString("\r\n")
	buf.Write(resp.Body)

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// SerializeHeader writes only the status line and headers (ensuring
// Content-Length from Size when the body is streamed), followed by the
// blank line — the caller writes the body itself, chunk by chunk, from
// resp.BodyReader.
func SerializeHeader(resp *Response) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", resp.Status, reasonPhrase(resp.Status))

	h := resp.Header
	if h == nil {
		h = make(hdr.Header)
	}
	if h.Get(hdr.ContentLength) == "" {
		h.Set(hdr.ContentLength, strconv.FormatInt(resp.Size, 10))
	}
	h.Write(buf)
	buf.WriteString("\r\n")

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// SerializeUpgrade builds the literal 101 response bytes:
//
//	HTTP/1.1 101 Switching Protocols\r\n
//	Upgrade: websocket\r\n
//	Connection: Upgrade\r\n
//	Sec-WebSocket-Accept: <acceptKey>\r\n
//	[Sec-WebSocket-Protocol: <protocol>\r\n]
//	\r\n
//
// hdr.Header's Write sorts keys alphabetically for deterministic wire
// output, which would reorder this literal template, so the upgrade
// response is built directly rather than through the generic header
// writer.
func SerializeUpgrade(acceptKey, protocol string) []byte {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: ")
	buf.WriteString(acceptKey)
	buf.WriteString("\r\n")
	if protocol != "" {
		buf.WriteString("Sec-WebSocket-Protocol: ")
		buf.WriteString(protocol)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}

// PlainTextError builds a minimal plain-text failure response: body
// is the status code and its reason phrase (e.g. "413 Payload Too
// Large"), no HTML, Connection: close.
func PlainTextError(status int) *Response {
	body := []byte(fmt.Sprintf("%d %s", status, reasonPhrase(status)))
	h := make(hdr.Header)
	h.Set(hdr.ContentType, "text/plain; charset=utf-8")
	h.Set(hdr.Connection, "close")
	return &Response{Status: status, Header: h, Body: body}
}

// ChunkSink receives successive byte slices of a response body; used by
// WriteBuffered to bound peak memory for large bodies.
type ChunkSink func(chunk []byte) error

// WriteBuffered serializes the status line and headers, then streams
// Body to sink in chunks of chunkSize bytes (default 32KiB), instead of
// materializing the whole serialized response at once.
func WriteBuffered(resp *Response, chunkSize int, sink ChunkSink) error {
	if chunkSize <= 0 {
		chunkSize = 32 << 10
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", resp.Status, reasonPhrase(resp.Status))
	h := resp.Header
	if h == nil {
		h = make(hdr.Header)
	}
	if h.Get(hdr.ContentLength) == "" {
		h.Set(hdr.ContentLength, strconv.Itoa(len(resp.Body)))
	}
	h.Write(buf)
	buf.WriteString("\r\n")
	if err := sink(append([]byte(nil), buf.Bytes()...)); err != nil {
		return err
	}

	body := resp.Body
	for len(body) > 0 {
		n := chunkSize
		if n > len(body) {
			n = len(body)
		}
		chunk := make([]byte, n)
		copy(chunk, body[:n])
		if err := sink(chunk); err != nil {
			return err
		}
		body = body[n:]
	}
	return nil
}
