package wire

import (
	"strconv"
	"strings"

	"github.com/badu/evhttp/hdr"
	"golang.org/x/net/http/httpguts"
)

// parseHeaderBlock parses the request-line-and-headers block produced by
// SplitHeadersAndBody into (method, target, version, headers). It
// rejects a second Content-Length or Transfer-Encoding header whose
// value conflicts with the first occurrence, closing off the classic
// request-smuggling shapes.
func parseHeaderBlock(block []byte) (method Method, target string, major, minor int, h hdr.Header, err error) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", "", 0, 0, nil, &ParseError{"request-line", "empty request"}
	}

	method, target, major, minor, err = parseRequestLine(lines[0])
	if err != nil {
		return "", "", 0, 0, nil, err
	}

	h = make(hdr.Header)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return "", "", 0, 0, nil, &ParseError{"headers", "malformed header line"}
		}
		name := hdr.CanonicalHeaderKey(strings.TrimSpace(line[:colon]))
		value := strings.TrimSpace(line[colon+1:])

		if !httpguts.ValidHeaderFieldName(name) {
			return "", "", 0, 0, nil, &ParseError{"headers", "invalid header name"}
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return "", "", 0, 0, nil, &ParseError{"headers", "invalid header value"}
		}

		if name == hdr.ContentLength {
			if existing, ok := h[name]; ok && len(existing) > 0 && existing[0] != value {
				return "", "", 0, 0, nil, &ParseError{"headers", "conflicting Content-Length"}
			}
		}
		if name == hdr.TransferEncoding {
			if existing, ok := h[name]; ok && len(existing) > 0 && !strings.EqualFold(existing[0], value) {
				return "", "", 0, 0, nil, &ParseError{"headers", "conflicting Transfer-Encoding"}
			}
		}
		h.Add(name, value)
	}

	if major >= 1 && minor >= 1 {
		hosts := h.Values(hdr.Host)
		if len(hosts) > 1 {
			return "", "", 0, 0, nil, &ParseError{"headers", "too many Host headers"}
		}
		if len(hosts) == 1 && !httpguts.ValidHostHeader(hosts[0]) {
			return "", "", 0, 0, nil, &ParseError{"headers", "malformed Host header"}
		}
	}

	// A request carrying both Content-Length and a chunked
	// Transfer-Encoding is itself the classic smuggling shape; reject it
	// even though each header is individually well-formed.
	if len(h.Values(hdr.ContentLength)) > 0 && IsChunked(h) {
		return "", "", 0, 0, nil, &ParseError{"headers", "both Content-Length and chunked Transfer-Encoding present"}
	}

	return method, target, major, minor, h, nil
}

// GetContentLength returns the first Content-Length value, or 0 if
// absent or unparseable.
func GetContentLength(h hdr.Header) int64 {
	v := h.Get(hdr.ContentLength)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// IsChunked reports whether Transfer-Encoding is chunked
// (case-insensitive). Chunked bodies are not decoded here. Its only
// caller is the smuggling check above; a chunked request that carries
// no Content-Length is not rejected by this package.
func IsChunked(h hdr.Header) bool {
	return strings.EqualFold(h.Get(hdr.TransferEncoding), "chunked")
}
