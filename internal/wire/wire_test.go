package wire

import (
	"strings"
	"testing"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/tempfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestS1GetEcho(t *testing.T) {
	raw := "GET /echo?name=world HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test\r\n"
	header, body, ok := SplitHeadersAndBody([]byte(raw + "\r\n"))
	require.True(t, ok)
	assert.Empty(t, body)

	files := tempfile.New(t.TempDir())
	defer files.Close()

	req, err := ParseRequest(header, body, files, "127.0.0.1", "5555")
	require.NoError(t, err)
	assert.Equal(t, MethodGet, req.Method)
	assert.Equal(t, "/echo", req.Path)
	assert.Equal(t, "world", req.Query.Get("name"))
	assert.True(t, req.ProtoAtLeast(1, 1))
}

func TestParseRequestRejectsConflictingContentLength(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\nContent-Length: 9\r\n\r\nabcd"
	header, body, ok := SplitHeadersAndBody([]byte(raw))
	require.True(t, ok)

	files := tempfile.New(t.TempDir())
	defer files.Close()

	_, err := ParseRequest(header, body, files, "127.0.0.1", "5555")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting Content-Length")
}

func TestParseRequestRejectsContentLengthWithChunkedTransferEncoding(t *testing.T) {
	raw := "POST /x HTTP/1.1\r\nHost: a\r\nContent-Length: 4\r\nTransfer-Encoding: chunked\r\n\r\nabcd"
	header, body, ok := SplitHeadersAndBody([]byte(raw))
	require.True(t, ok)

	files := tempfile.New(t.TempDir())
	defer files.Close()

	_, err := ParseRequest(header, body, files, "127.0.0.1", "5555")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunked")
}

func TestIsWebSocketUpgrade(t *testing.T) {
	h := make(hdr.Header)
	h.Set(hdr.UpgradeHeader, "websocket")
	h.Set(hdr.Connection, "Upgrade")
	h.Set(hdr.SecWebSocketKey, "dGhlIHNhbXBsZSBub25jZQ==")
	h.Set(hdr.SecWebSocketVer, "13")
	req := &Request{Header: h}
	assert.True(t, IsWebSocketUpgrade(req))

	h.Set(hdr.SecWebSocketVer, "8")
	assert.False(t, IsWebSocketUpgrade(req))
}

func TestSerializeAddsContentLength(t *testing.T) {
	resp := &Response{Status: 200, Header: make(hdr.Header), Body: []byte("hello")}
	out := Serialize(resp)
	s := string(out)
	assert.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, s, "Content-Length: 5\r\n")
	assert.True(t, strings.HasSuffix(s, "hello"))
}

func TestPlainTextError(t *testing.T) {
	resp := PlainTextError(413)
	assert.Equal(t, 413, resp.Status)
	assert.Equal(t, "close", resp.Header.Get(hdr.Connection))
	assert.Equal(t, "413 Payload Too Large", string(resp.Body))
}

func TestWriteBufferedChunksBody(t *testing.T) {
	body := make([]byte, 100)
	for i := range body {
		body[i] = byte('a' + i%26)
	}
	resp := &Response{Status: 200, Header: make(hdr.Header), Body: body}

	var chunks [][]byte
	err := WriteBuffered(resp, 30, func(c []byte) error {
		cp := append([]byte(nil), c...)
		chunks = append(chunks, cp)
		return nil
	})
	require.NoError(t, err)
	require.True(t, len(chunks) > 1)

	var reassembled []byte
	for _, c := range chunks[1:] {
		reassembled = append(reassembled, c...)
	}
	assert.Equal(t, body, reassembled)
}

func TestCookieString(t *testing.T) {
	c := &Cookie{Name: "sid", Value: "abc123", Path: "/", HttpOnly: true, Secure: true, MaxAge: 3600}
	s := c.String()
	assert.Contains(t, s, "sid=abc123")
	assert.Contains(t, s, "Path=/")
	assert.Contains(t, s, "HttpOnly")
	assert.Contains(t, s, "Secure")
	assert.Contains(t, s, "Max-Age=3600")
}

func TestCookieStringInvalidNameReturnsEmpty(t *testing.T) {
	c := &Cookie{Name: "bad name;", Value: "x"}
	assert.Equal(t, "", c.String())
}

func TestSetCookieAppendsHeader(t *testing.T) {
	h := make(hdr.Header)
	SetCookie(h, &Cookie{Name: "a", Value: "1"})
	SetCookie(h, &Cookie{Name: "b", Value: "2"})
	assert.Len(t, h.Values(hdr.SetCookieHeader), 2)
}
