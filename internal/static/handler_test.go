package static

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func getRequest(method wire.Method, path string) *wire.Request {
	return &wire.Request{Method: method, Path: path, Header: make(hdr.Header)}
}

func readBody(t *testing.T, resp *wire.Response) []byte {
	t.Helper()
	if !resp.Streamed() {
		return resp.Body
	}
	b, err := io.ReadAll(resp.BodyReader)
	require.NoError(t, err)
	if resp.Closer != nil {
		resp.Closer.Close()
	}
	return b
}

func TestServeFileStreamed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "hello.txt", []byte("Hello World"))
	h := New(Config{Root: root})

	resp, claimed := h.Serve(getRequest(wire.MethodGet, "/hello.txt"))
	require.True(t, claimed)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("Hello World"), readBody(t, resp))
	assert.Contains(t, resp.Header.Get(hdr.ContentType), "text/plain")
}

func TestServeDeclinesUnknownPath(t *testing.T) {
	h := New(Config{Root: t.TempDir()})
	_, claimed := h.Serve(getRequest(wire.MethodGet, "/nope.txt"))
	assert.False(t, claimed)
}

func TestServeRejectsNonGetHead(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("x"))
	h := New(Config{Root: root})

	resp, claimed := h.Serve(getRequest(wire.MethodPost, "/f.txt"))
	require.True(t, claimed)
	assert.Equal(t, 405, resp.Status)
	assert.Equal(t, "GET, HEAD", resp.Header.Get(hdr.Allow))
}

func TestServeTraversalDoesNotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("x"))
	h := New(Config{Root: root})

	// Dot-dot segments collapse inside the root; the probe must never
	// resolve to a file outside it.
	for _, probe := range []string{
		"/../../etc/passwd",
		"/../../../../etc/passwd",
		"/..%2F..%2Fetc/passwd",
		"/subdir/../../etc/passwd",
	} {
		resp, claimed := h.Serve(getRequest(wire.MethodGet, probe))
		if claimed {
			assert.Contains(t, []int{403, 404}, resp.Status, "probe %q", probe)
		}
	}
}

func TestServeRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	secret := writeFile(t, outside, "secret.txt", []byte("secret"))

	root := t.TempDir()
	link := filepath.Join(root, "leak.txt")
	if err := os.Symlink(secret, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	h := New(Config{Root: root})
	resp, claimed := h.Serve(getRequest(wire.MethodGet, "/leak.txt"))
	require.True(t, claimed)
	assert.Equal(t, 403, resp.Status)
}

func TestConditionalEtag(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("content"))
	h := New(Config{Root: root})

	resp, _ := h.Serve(getRequest(wire.MethodGet, "/f.txt"))
	etag := resp.Header.Get(hdr.Etag)
	require.NotEmpty(t, etag)
	readBody(t, resp)

	req := getRequest(wire.MethodGet, "/f.txt")
	req.Header.Set(hdr.IfNoneMatch, etag)
	resp, claimed := h.Serve(req)
	require.True(t, claimed)
	assert.Equal(t, 304, resp.Status)
	assert.Empty(t, resp.Body)
}

func TestConditionalIfModifiedSince(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "f.txt", []byte("content"))
	modTime := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	h := New(Config{Root: root})

	req := getRequest(wire.MethodGet, "/f.txt")
	req.Header.Set(hdr.IfModifiedSince, modTime.UTC().Format(hdr.TimeFormat))
	resp, claimed := h.Serve(req)
	require.True(t, claimed)
	assert.Equal(t, 304, resp.Status)
}

// TestRangeRequest slices a 2048-byte file with bytes=100-199 and
// expects 206 with the matching Content-Range.
func TestRangeRequest(t *testing.T) {
	root := t.TempDir()
	content := make([]byte, 2048)
	for i := range content {
		content[i] = byte(i % 251)
	}
	writeFile(t, root, "blob.bin", content)
	h := New(Config{Root: root})

	req := getRequest(wire.MethodGet, "/blob.bin")
	req.Header.Set(hdr.Range, "bytes=100-199")
	resp, claimed := h.Serve(req)
	require.True(t, claimed)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, "bytes 100-199/2048", resp.Header.Get(hdr.ContentRange))
	assert.Equal(t, content[100:200], readBody(t, resp))
}

func TestRangeSuffixAndOpenEnded(t *testing.T) {
	root := t.TempDir()
	content := []byte("0123456789")
	writeFile(t, root, "d.txt", content)
	h := New(Config{Root: root})

	req := getRequest(wire.MethodGet, "/d.txt")
	req.Header.Set(hdr.Range, "bytes=-3")
	resp, _ := h.Serve(req)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, []byte("789"), readBody(t, resp))

	req = getRequest(wire.MethodGet, "/d.txt")
	req.Header.Set(hdr.Range, "bytes=7-")
	resp, _ = h.Serve(req)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, []byte("789"), readBody(t, resp))
}

func TestInvalidRange416(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "d.txt", make([]byte, 2048))
	h := New(Config{Root: root})

	for _, v := range []string{"bytes=5000-6000", "bytes=abc", "bytes=5-2", "bytes=0-1,5-9"} {
		req := getRequest(wire.MethodGet, "/d.txt")
		req.Header.Set(hdr.Range, v)
		resp, claimed := h.Serve(req)
		require.True(t, claimed)
		assert.Equal(t, 416, resp.Status, "range %q", v)
		assert.Equal(t, "bytes */2048", resp.Header.Get(hdr.ContentRange))
	}
}

func TestHeadOmitsBody(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("hello"))
	h := New(Config{Root: root})

	resp, claimed := h.Serve(getRequest(wire.MethodHead, "/f.txt"))
	require.True(t, claimed)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "5", resp.Header.Get(hdr.ContentLength))
	assert.Empty(t, resp.Body)
	assert.False(t, resp.Streamed())
}

func TestCacheHitOnSecondServe(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "f.txt", []byte("cached"))
	h := New(Config{Root: root, CacheEnabled: true, CacheMaxBytes: 1 << 20, CacheMaxEntries: 8, EligibleMaxBytes: 1 << 10})

	resp, _ := h.Serve(getRequest(wire.MethodGet, "/f.txt"))
	assert.Equal(t, []byte("cached"), resp.Body)
	resp, _ = h.Serve(getRequest(wire.MethodGet, "/f.txt"))
	assert.Equal(t, []byte("cached"), resp.Body)

	st := h.Stats()
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.Equal(t, 1, st.Entries)
}

func TestLargeFileBypassesCache(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.bin", make([]byte, 4096))
	h := New(Config{Root: root, CacheEnabled: true, CacheMaxBytes: 1 << 20, CacheMaxEntries: 8, EligibleMaxBytes: 1024})

	resp, claimed := h.Serve(getRequest(wire.MethodGet, "/big.bin"))
	require.True(t, claimed)
	assert.True(t, resp.Streamed())
	readBody(t, resp)
	assert.Equal(t, 0, h.Stats().Entries)
}

// TestLRUEviction bounds the cache at 3 entries, accesses f1 f2 f3 f1
// f4, and expects {f1, f3, f4} with f2 evicted.
func TestLRUEviction(t *testing.T) {
	c := NewCache(1<<20, 3)
	put := func(name string) {
		c.Put(name, newEntry([]byte(name), "text/plain", time.Now(), `"`+name+`"`))
	}

	put("f1")
	put("f2")
	put("f3")
	_, hit := c.Get("f1")
	require.True(t, hit)
	put("f4")

	_, ok := c.Get("f1")
	assert.True(t, ok)
	_, ok = c.Get("f2")
	assert.False(t, ok)
	_, ok = c.Get("f3")
	assert.True(t, ok)
	_, ok = c.Get("f4")
	assert.True(t, ok)
}

func TestCacheByteBoundEviction(t *testing.T) {
	c := NewCache(10, 100)
	c.Put("a", newEntry(make([]byte, 4), "x", time.Now(), "a"))
	c.Put("b", newEntry(make([]byte, 4), "x", time.Now(), "b"))
	c.Put("c", newEntry(make([]byte, 4), "x", time.Now(), "c"))

	st := c.Stats()
	assert.LessOrEqual(t, st.Bytes, int64(10))
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestClearCacheDropsEverything(t *testing.T) {
	c := NewCache(1<<20, 10)
	c.Put("a", newEntry([]byte("a"), "x", time.Now(), "a"))
	c.Clear()
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, int64(0), c.Stats().Bytes)
}
