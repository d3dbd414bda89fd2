// Package config wraps github.com/elastic/go-ucfg, loading the
// server's recognized options from YAML into typed structs via
// `config:"..."` tags.
package config

import (
	"time"

	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"
)

// Config wraps a ucfg.Config with a small convenience surface for
// section lookup and typed unpacking.
type Config struct {
	conf *ucfg.Config
}

func New(conf *ucfg.Config) *Config { return &Config{conf: conf} }

func (c *Config) Has(s string) bool {
	ok, err := c.conf.Has(s, -1)
	if err != nil {
		return false
	}
	return ok
}

func (c *Config) Child(s string) (*Config, error) {
	content, err := c.conf.Child(s, -1)
	if err != nil {
		return nil, err
	}
	return &Config{conf: content}, nil
}

func (c *Config) Unpack(to any) error { return c.conf.Unpack(to) }

func (c *Config) UnpackChild(s string, to any) error {
	content, err := c.conf.Child(s, -1)
	if err != nil {
		return err
	}
	return content.Unpack(to)
}

func (c *Config) Enabled(s string) bool {
	child, err := c.conf.Child(s, -1)
	if err != nil {
		return false
	}
	ok, err := child.Bool("enabled", -1)
	if err != nil {
		return false
	}
	return ok
}

// LoadPath reads and parses a YAML config file at path.
func LoadPath(path string) (*Config, error) {
	conf, err := yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return nil, err
	}
	return New(conf), nil
}

// LoadContent parses in-memory YAML bytes.
func LoadContent(b []byte) (*Config, error) {
	conf, err := yaml.NewConfig(b)
	if err != nil {
		return nil, err
	}
	return New(conf), nil
}

// ServerSpec is every option the top-level `server:` section of a
// config file recognizes.
type ServerSpec struct {
	Host string `config:"host"`
	Port int    `config:"port"`

	TLSEnable bool   `config:"tls_enable"`
	TLSCert   string `config:"tls_cert"`
	TLSKey    string `config:"tls_key"`

	PublicPath string `config:"public_path"`

	RequestTimeout   time.Duration `config:"request_timeout"`
	ConnectionTimeout time.Duration `config:"connection_timeout"`
	MaxConnections   int           `config:"max_connections"`
	MaxRequestSize   int64         `config:"max_request_size"`
	BufferSize       int           `config:"buffer_size"`

	KeepAliveEnable      bool          `config:"keep_alive_enable"`
	KeepAliveTimeout     time.Duration `config:"keep_alive_timeout"`
	KeepAliveMaxRequests int           `config:"keep_alive_max_requests"`

	StaticCacheEnable        bool  `config:"static_cache_enable"`
	StaticCacheSize          int64 `config:"static_cache_size"`
	StaticCacheMaxEntries    int   `config:"static_cache_max_entries"`
	StaticCacheMaxEntryBytes int64 `config:"static_cache_max_entry_bytes"`

	RateLimitEnable   bool          `config:"rate_limit_enable"`
	RateLimitRequests int           `config:"rate_limit_requests"`
	RateLimitWindow   time.Duration `config:"rate_limit_window"`

	MaxAcceptsPerCycle int  `config:"max_accepts_per_cycle"`
	DebugMode          bool `config:"debug_mode"`

	TempFileDir string `config:"temp_file_dir"`
}

// WorkerPoolSpec configures the master, unpacked from a config
// file's top-level `worker_pool:` section.
type WorkerPoolSpec struct {
	Enabled      bool          `config:"enabled"`
	Workers      int           `config:"workers"`
	Architecture string        `config:"architecture"` // "auto", "shared-listen", "centralized"
	Balancer     string        `config:"balancer"`      // "round-robin", "least-connections"
	AutoRestart  bool          `config:"auto_restart"`
	RestartDelay time.Duration `config:"restart_delay"`
}
