package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return a, b
}

func TestPoolAddRejectsWhenFull(t *testing.T) {
	p := New(1)
	a, _ := pipeConns(t)
	_, _, ok := p.Add(a, "127.0.0.1", "1")
	require.True(t, ok)

	b, _ := pipeConns(t)
	_, _, ok = p.Add(b, "127.0.0.1", "2")
	assert.False(t, ok)
}

func TestRefInvalidatesAfterRemove(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	ref, _, ok := p.Add(a, "127.0.0.1", "1")
	require.True(t, ok)
	assert.True(t, p.Valid(ref))

	p.Remove(ref)
	assert.False(t, p.Valid(ref))
}

func TestRefDoesNotAliasRecycledSlot(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	ref1, _, ok := p.Add(a, "127.0.0.1", "1")
	require.True(t, ok)
	p.Remove(ref1)

	b, _ := pipeConns(t)
	ref2, _, ok := p.Add(b, "127.0.0.1", "2")
	require.True(t, ok)

	assert.False(t, p.Valid(ref1))
	assert.True(t, p.Valid(ref2))
}

func TestConnKeepaliveAndRequestCount(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	_, c, ok := p.Add(a, "127.0.0.1", "1")
	require.True(t, ok)

	assert.True(t, c.IsKeepalive())
	c.SetKeepalive(false)
	assert.False(t, c.IsKeepalive())

	assert.Equal(t, 0, c.RequestCount())
	c.IncrementRequestCount()
	assert.Equal(t, 1, c.RequestCount())
}

func TestConnBufferLifecycle(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	_, c, _ := p.Add(a, "127.0.0.1", "1")

	c.AppendToBuffer([]byte("GET / HTTP/1.1\r\n"))
	c.AppendToBuffer([]byte("\r\n"))
	assert.Equal(t, "GET / HTTP/1.1\r\n\r\n", string(c.Buffer()))

	c.ClearBuffer()
	assert.Empty(t, c.Buffer())
}

func TestConnIdleTimeout(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	_, c, _ := p.Add(a, "127.0.0.1", "1")

	assert.False(t, c.IsIdleTimedOut(time.Hour))

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-time.Minute)
	c.mu.Unlock()
	assert.True(t, c.IsIdleTimedOut(time.Second))
}

func TestPoolRemoveTimedOut(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	ref, c, _ := p.Add(a, "127.0.0.1", "1")

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-time.Hour)
	c.mu.Unlock()

	removed := p.RemoveTimedOut(time.Minute)
	require.Len(t, removed, 1)
	assert.Equal(t, ref, removed[0])
	assert.False(t, p.Valid(ref))
}

func TestConnClose(t *testing.T) {
	p := New(0)
	a, _ := pipeConns(t)
	_, c, _ := p.Add(a, "127.0.0.1", "1")
	assert.True(t, c.IsValid())
	require.NoError(t, c.Close())
	assert.False(t, c.IsValid())
	// Closing twice must not panic or error.
	require.NoError(t, c.Close())
}
