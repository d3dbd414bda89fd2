package evhttp

import (
	"strconv"
	"time"

	"github.com/badu/evhttp/internal/logging"
)

// Config is an immutable snapshot of server settings, built once by
// the config loader (or by hand for embedding) and passed to New.
// Field names mirror the daemon's YAML config keys.
type Config struct {
	Host string
	Port int

	TLSEnable bool
	TLSCert   string
	TLSKey    string

	PublicPath string

	RequestTimeout    time.Duration
	ConnectionTimeout time.Duration
	MaxConnections    int
	MaxRequestSize    int64
	BufferSize        int

	KeepAliveEnable      bool
	KeepAliveTimeout     time.Duration
	KeepAliveMaxRequests int

	StaticCacheEnable        bool
	StaticCacheSize          int64
	StaticCacheMaxEntries    int
	StaticCacheMaxEntryBytes int64

	RateLimitEnable   bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	MaxAcceptsPerCycle int
	DebugMode          bool

	WebSocket WebSocketConfig

	TempFileDir string

	Logging logging.Options
}

// WebSocketConfig governs which upgrade requests the WS subsystem
// claims and the handshake policy applied to them.
type WebSocketConfig struct {
	// Path restricts the subsystem to upgrade requests at exactly this
	// path; empty claims upgrades at every path.
	Path string

	Protocols          []string
	OriginCheckEnabled bool
	AllowedOrigins     []string
	PingInterval       time.Duration
	PongTimeout        time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 8080
	}
	return c.Host + ":" + strconv.Itoa(port)
}
