// Package wire implements the HTTP/1.1 wire codec:
// request-line/header/body parsing, multipart
// hand-off, and response serialization. It never touches a socket
// directly — internal/conn owns the bytes, this package only turns them
// into structured values and back.
package wire

import (
	"errors"
	"io"
	"net/url"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/tempfile"
)

// Method is one of the nine tokens the request line may carry.
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodPatch   Method = "PATCH"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

var validMethods = map[Method]bool{
	MethodGet: true, MethodHead: true, MethodPost: true, MethodPut: true,
	MethodDelete: true, MethodOptions: true, MethodPatch: true,
	MethodConnect: true, MethodTrace: true,
}

// ParseError reports a malformed request line, header block, or body.
type ParseError struct {
	Stage string // "request-line", "headers", "body", "multipart"
	Msg   string
}

func (e *ParseError) Error() string { return "wire: " + e.Stage + ": " + e.Msg }

// ErrInvalidMultipart is returned when a multipart boundary fails RFC
// 2046 validation.
var ErrInvalidMultipart = errors.New("wire: invalid multipart boundary")

// Request is the parsed artifact handed to the host.
type Request struct {
	Method      Method
	Target      string
	Path        string
	RawQuery    string
	ProtoMajor  int
	ProtoMinor  int
	Header      hdr.Header
	Query       url.Values
	Cookies     map[string]string
	ParsedBody  any // map[string]string (form), any (JSON), or multipart fields
	Uploaded    map[string][]*tempfile.UploadedFile
	RemoteAddr  string
	RemotePort  string
	Body        []byte
}

// ProtoAtLeast reports whether the request's HTTP version is >= major.minor.
func (r *Request) ProtoAtLeast(major, minor int) bool {
	return r.ProtoMajor > major || (r.ProtoMajor == major && r.ProtoMinor >= minor)
}

// Response is produced by the host and serialized back to the wire.
//
// Most handlers fill Body directly. The static file handler instead
// sets BodyReader+Size for every file it does not serve from its cache
// (cache disabled, file not cache-eligible, or a Range request): the
// caller streams from BodyReader in bounded
// chunks rather than materializing the whole file in memory. Closer is
// invoked once the body has been fully written (or the connection
// closed early), whichever comes first — it is nil when no cleanup is
// needed (e.g. a bytes.Reader).
type Response struct {
	Status     int
	Header     hdr.Header
	Body       []byte
	BodyReader io.Reader
	Size       int64
	Closer     io.Closer
}

// Streamed reports whether resp's body must be read incrementally from
// BodyReader instead of taken from Body.
func (r *Response) Streamed() bool { return r.BodyReader != nil }
