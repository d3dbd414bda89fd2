// Package static implements the static-file serving layer: path-safe
// resolution under a public root, an LRU
// cache bounded by both total bytes and entry count, conditional
// requests, and single-range support with streaming for files too
// large to be cache-eligible.
package static

import "time"

// Config bounds the cache and describes how static requests are served.
type Config struct {
	// Root is the absolute filesystem directory requests are resolved
	// against. Empty disables the handler.
	Root string

	// CacheEnabled toggles the LRU cache; when false every request
	// streams from disk.
	CacheEnabled bool

	// CacheMaxBytes and CacheMaxEntries are two independent eviction
	// bounds — eviction runs until both are satisfied.
	CacheMaxBytes   int64
	CacheMaxEntries int

	// EligibleMaxBytes is the per-file threshold below which a file may
	// be cached at all; larger files always stream. Left as its own
	// knob, distinct from the total cache bound — default is 1/8th of
	// CacheMaxBytes when unset.
	EligibleMaxBytes int64
}

func (c Config) withDefaults() Config {
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = 64 << 20
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 1024
	}
	if c.EligibleMaxBytes <= 0 {
		c.EligibleMaxBytes = c.CacheMaxBytes / 8
	}
	return c
}

// entry is a cached (path -> content+metadata) record.
type entry struct {
	data        []byte
	contentType string
	modTime     time.Time
	etag        string
	size        int64
}

// Stats exposes the LRU cache counters.
type Stats struct {
	Entries int
	Bytes   int64
	Hits    int64
	Misses  int64
}
