package static

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/wire"
)

// Handler resolves and serves files under Root.
// It is safe for concurrent use only insofar as the host never calls it
// concurrently with itself — the engine invokes handlers synchronously
// within one HasRequest tick.
type Handler struct {
	cfg   Config
	cache *Cache
}

// New constructs a Handler. cfg.Root must be an absolute, existing
// directory; the caller is responsible for validating that before
// attaching the handler to the server.
func New(cfg Config) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{cfg: cfg}
	if cfg.CacheEnabled {
		h.cache = NewCache(cfg.CacheMaxBytes, cfg.CacheMaxEntries)
	}
	return h
}

// Stats returns the cache's hit/miss/size counters, or a zero Stats if
// caching is disabled.
func (h *Handler) Stats() Stats {
	if h.cache == nil {
		return Stats{}
	}
	return h.cache.Stats()
}

// ClearCache drops every cached entry.
func (h *Handler) ClearCache() {
	if h.cache != nil {
		h.cache.Clear()
	}
}

// Serve implements server.StaticHandler: ok is false when the request
// path does not resolve to a file under Root, in which case the caller
// falls through to the next handler in the dispatch chain.
func (h *Handler) Serve(req *wire.Request) (*wire.Response, bool) {
	if h.cfg.Root == "" {
		return nil, false
	}

	full, safe := h.resolve(req.Path)
	if !safe {
		return errorResponse(403), true
	}

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false
		}
		return errorResponse(403), true
	}
	if info.IsDir() {
		return nil, false
	}

	if req.Method != wire.MethodGet && req.Method != wire.MethodHead {
		resp := errorResponse(405)
		resp.Header.Set(hdr.Allow, "GET, HEAD")
		return resp, true
	}

	etag := computeEtag(info)
	contentType := detectContentType(full)

	if notModified(req, etag, info.ModTime()) {
		resp := &wire.Response{Status: 304, Header: make(hdr.Header)}
		setConditionalHeaders(resp.Header, etag, info.ModTime())
		return resp, true
	}

	size := info.Size()
	rng, hasRange, rangeErr := parseRange(req.Header.Get(hdr.Range), size)
	if rangeErr != nil {
		resp := errorResponse(416)
		resp.Header.Set(hdr.ContentRange, fmt.Sprintf("bytes */%d", size))
		return resp, true
	}

	if h.cfg.CacheEnabled && h.cache.Eligible(size, h.cfg.EligibleMaxBytes) && !hasRange {
		return h.serveCached(req, full, etag, contentType, info)
	}

	return h.serveStream(req, full, etag, contentType, info, rng, hasRange)
}

func (h *Handler) serveCached(req *wire.Request, full, etag, contentType string, info os.FileInfo) (*wire.Response, bool) {
	e, ok := h.cache.Get(full)
	if !ok || !e.modTime.Equal(info.ModTime()) {
		data, err := os.ReadFile(full)
		if err != nil {
			return errorResponse(403), true
		}
		e = newEntry(data, contentType, info.ModTime(), etag)
		h.cache.Put(full, e)
	}

	resp := &wire.Response{Status: 200, Header: make(hdr.Header)}
	setConditionalHeaders(resp.Header, e.etag, e.modTime)
	resp.Header.Set(hdr.ContentType, e.contentType)
	resp.Header.Set(hdr.AcceptRanges, "bytes")
	if req.Method == wire.MethodHead {
		resp.Header.Set(hdr.ContentLength, strconv.Itoa(len(e.data)))
		return resp, true
	}
	resp.Body = e.data
	return resp, true
}

func (h *Handler) serveStream(req *wire.Request, full, etag, contentType string, info os.FileInfo, rng httpRange, hasRange bool) (*wire.Response, bool) {
	size := info.Size()
	resp := &wire.Response{Header: make(hdr.Header)}
	setConditionalHeaders(resp.Header, etag, info.ModTime())
	resp.Header.Set(hdr.ContentType, contentType)
	resp.Header.Set(hdr.AcceptRanges, "bytes")

	if req.Method == wire.MethodHead {
		resp.Status = 200
		if hasRange {
			resp.Status = 206
			resp.Header.Set(hdr.ContentRange, rng.contentRange(size))
			resp.Header.Set(hdr.ContentLength, strconv.FormatInt(rng.length, 10))
		} else {
			resp.Header.Set(hdr.ContentLength, strconv.FormatInt(size, 10))
		}
		return resp, true
	}

	f, err := os.Open(full)
	if err != nil {
		return errorResponse(403), true
	}

	if hasRange {
		if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
			f.Close()
			return errorResponse(403), true
		}
		resp.Status = 206
		resp.Header.Set(hdr.ContentRange, rng.contentRange(size))
		resp.Size = rng.length
		resp.BodyReader = io.LimitReader(f, rng.length)
		resp.Closer = f
		return resp, true
	}

	resp.Status = 200
	resp.Size = size
	resp.BodyReader = f
	resp.Closer = f
	return resp, true
}

// resolve turns a request path into an absolute filesystem path under
// Root, rejecting any resolution that escapes it (via ".." or a
// symlink). safe is false on any escape attempt.
func (h *Handler) resolve(reqPath string) (full string, safe bool) {
	clean := filepath.Clean("/" + reqPath)
	candidate := filepath.Join(h.cfg.Root, clean)

	rootAbs, err := filepath.Abs(h.cfg.Root)
	if err != nil {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			// Parent existing path still must not escape root.
			if !strings.HasPrefix(candidate, rootAbs+string(filepath.Separator)) && candidate != rootAbs {
				return "", false
			}
			return candidate, true
		}
		return "", false
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", false
	}
	if resolved != rootResolved && !strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
		return "", false
	}
	return resolved, true
}

func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func computeEtag(info os.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size())
}

func setConditionalHeaders(h hdr.Header, etag string, modTime time.Time) {
	h.Set(hdr.Etag, etag)
	h.Set(hdr.LastModified, modTime.UTC().Format(hdr.TimeFormat))
}

func notModified(req *wire.Request, etag string, modTime time.Time) bool {
	if inm := req.Header.Get(hdr.IfNoneMatch); inm != "" {
		return inm == etag || inm == "*"
	}
	if ims := req.Header.Get(hdr.IfModifiedSince); ims != "" {
		t, err := time.Parse(hdr.TimeFormat, ims)
		if err != nil {
			return false
		}
		return !modTime.Truncate(time.Second).After(t)
	}
	return false
}

func errorResponse(status int) *wire.Response {
	return wire.PlainTextError(status)
}
