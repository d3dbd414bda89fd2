// Package ratelimit implements the sliding-window per-client limiter.
// State is process-local — a deployment wanting cross-worker limits
// must externalize it.
package ratelimit

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

// Limiter is a sliding-window counter keyed by client address, sharded
// by an xxhash of the key to bound lock contention under many
// concurrent clients — the same sharding technique the retrieval
// pack's high-cardinality flow-key bucketing uses.
type Limiter struct {
	limit  int
	window time.Duration

	shards [shardCount]shard
}

type shard struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// New returns a Limiter allowing at most limit requests per window per
// key.
func New(limit int, window time.Duration) *Limiter {
	l := &Limiter{limit: limit, window: window}
	for i := range l.shards {
		l.shards[i].hits = make(map[string][]time.Time)
	}
	return l
}

func (l *Limiter) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return &l.shards[h%shardCount]
}

// Allow implements server.RateLimiter: drop timestamps older than
// window, deny if the remaining count is already at limit, else record
// now and allow.
func (l *Limiter) Allow(key string) (allowed bool, limit, remaining int, resetUnix int64, retryAfterSeconds int) {
	now := time.Now()
	s := l.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[key]
	hits = dropOlderThan(hits, now.Add(-l.window))

	if len(hits) >= l.limit {
		oldest := hits[0]
		reset := oldest.Add(l.window)
		s.hits[key] = hits
		retry := int(reset.Sub(now).Seconds())
		if retry < 1 {
			retry = 1
		}
		return false, l.limit, 0, reset.Unix(), retry
	}

	hits = append(hits, now)
	s.hits[key] = hits
	remaining = l.limit - len(hits)
	reset := now.Add(l.window)
	if len(hits) > 0 {
		reset = hits[0].Add(l.window)
	}
	return true, l.limit, remaining, reset.Unix(), 0
}

// GetResetTime returns the duration until key's oldest in-window
// timestamp expires, or zero if key has no recorded hits.
func (l *Limiter) GetResetTime(key string) time.Duration {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hits[key]
	if len(hits) == 0 {
		return 0
	}
	d := time.Until(hits[0].Add(l.window))
	if d < 0 {
		return 0
	}
	return d
}

func dropOlderThan(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
