package evhttp

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/badu/evhttp/hdr"
	"github.com/badu/evhttp/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               0,
		MaxAcceptsPerCycle: 4,
		BufferSize:         4096,
		Logging:            logging.Options{Stdout: true, Level: "error"},
	}
}

func startedServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	// Port 0 via a pre-bound listener so the test can learn the address.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(cfg)
	require.True(t, s.StartWithListener(ln))
	t.Cleanup(s.Stop)
	return s, ln.Addr().String()
}

func tickUntil(t *testing.T, s *Server, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.HasRequest()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestServerEchoEndToEnd(t *testing.T) {
	s, addr := startedServer(t, quietConfig())

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	c.Write([]byte("GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"))

	var req *Request
	var ref Ref
	tickUntil(t, s, 2*time.Second, func() bool {
		if s.HasRequest() {
			var ok bool
			req, ref, ok = s.GetRequest()
			return ok
		}
		return false
	})
	assert.Equal(t, "/hello", req.Path)
	assert.True(t, s.HasPendingResponse())

	h := make(hdr.Header)
	h.Set(hdr.ContentType, "text/plain")
	require.NoError(t, s.Respond(ref, &Response{Status: 200, Header: h, Body: []byte("Hello World")}))

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(c).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "200 OK")

	m := s.GetMetrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
}

func TestServerStaticAttachServesFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html></html>"), 0o644))

	cfg := quietConfig()
	cfg.PublicPath = root
	cfg.StaticCacheEnable = true
	cfg.StaticCacheSize = 1 << 20
	s, addr := startedServer(t, cfg)

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()
	c.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))

	got := make(chan string, 1)
	go func() {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 8192)
		n, _ := c.Read(buf)
		got <- string(buf[:n])
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Static responses are handled inside the tick; the queue stays empty.
		assert.False(t, s.HasRequest())
		select {
		case resp := <-got:
			assert.Contains(t, resp, "200 OK")
			assert.Contains(t, resp, "<html></html>")
			return
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("static response never arrived")
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := quietConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	s := New(cfg)
	assert.False(t, s.Start())
}

func TestServerStartFailsOnMissingTLSCert(t *testing.T) {
	cfg := quietConfig()
	cfg.TLSEnable = true
	cfg.TLSCert = "/nonexistent/cert.pem"
	cfg.TLSKey = "/nonexistent/key.pem"
	s := New(cfg)
	assert.False(t, s.Start())
}

func TestWorkerIDRoundTrip(t *testing.T) {
	s := New(quietConfig())
	assert.Equal(t, 0, s.WorkerID())
	s.SetWorkerID(3)
	assert.Equal(t, 3, s.WorkerID())
}

func TestGetMetricsZeroState(t *testing.T) {
	s := New(quietConfig())
	m := s.GetMetrics()
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.QueueSize)
	assert.False(t, m.WorkerPoolAttached)
	assert.NotNil(t, s.MetricsRegistry())
}

func TestAddExternalConnection(t *testing.T) {
	s := New(quietConfig())
	client, server := net.Pipe()
	defer client.Close()

	require.True(t, s.AddExternalConnection(server, "203.0.113.9", "40000"))
	assert.Equal(t, 1, s.ActiveConnections())
}
