package wire

import (
	"net/url"
	"strings"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/tempfile"
)

// ParseHeadersOnly parses just the request-line and headers of a framed
// block, without touching the body — used by internal/server to cache
// header metadata across poll ticks while a request's body is still
// arriving.
func ParseHeadersOnly(headerBlock []byte) (Method, string, int, int, hdr.Header, error) {
	return parseHeaderBlock(headerBlock)
}

// ParseRequest turns a framed header block plus its body bytes into a
// Request. headerBlock must not include the terminating blank line (see
// SplitHeadersAndBody). files receives ownership of any uploaded parts.
func ParseRequest(headerBlock, body []byte, files *tempfile.Manager, remoteAddr, remotePort string) (*Request, error) {
	method, target, major, minor, h, err := parseHeaderBlock(headerBlock)
	if err != nil {
		return nil, err
	}

	path := target
	rawQuery := ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		path = target[:i]
		rawQuery = target[i+1:]
	}
	query, _ := url.ParseQuery(rawQuery)

	cookies := parseCookies(h.Get(hdr.CookieHeader))

	parsedBody, uploaded, err := parseBody(h, body, files)
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:     method,
		Target:     target,
		Path:       path,
		RawQuery:   rawQuery,
		ProtoMajor: major,
		ProtoMinor: minor,
		Header:     h,
		Query:      query,
		Cookies:    cookies,
		ParsedBody: parsedBody,
		Uploaded:   uploaded,
		RemoteAddr: remoteAddr,
		RemotePort: remotePort,
		Body:       body,
	}, nil
}

func parseCookies(header string) map[string]string {
	out := make(map[string]string)
	if header == "" {
		return out
	}
	parts := strings.Split(header, ";")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		eq := strings.IndexByte(p, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(p[:eq])
		value := strings.TrimSpace(p[eq+1:])
		if name == "" {
			continue
		}
		if unquoted, err := url.QueryUnescape(value); err == nil {
			value = unquoted
		}
		out[name] = value
	}
	return out
}

// IsWebSocketUpgrade reports whether r is a valid RFC 6455 handshake
// request.
func IsWebSocketUpgrade(r *Request) bool {
	if !strings.EqualFold(r.Header.Get(hdr.UpgradeHeader), "websocket") {
		return false
	}
	if !headerContainsToken(r.Header.Get(hdr.Connection), "upgrade") {
		return false
	}
	if r.Header.Get(hdr.SecWebSocketKey) == "" {
		return false
	}
	return r.Header.Get(hdr.SecWebSocketVer) == "13"
}

func headerContainsToken(v, token string) bool {
	for _, part := range strings.Split(v, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
