package static

import (
	"container/list"
	"sync"
	"time"
)

// Cache is the LRU cache of (path -> content+metadata) entries. It is
// bounded by two independent limits — total
// bytes and entry count — and evicts least-recently-used entries until
// both are satisfied. "Most-recently-used" order is access timestamp
// order, ties broken by insertion order, which falls out naturally of
// container/list's move-to-front-on-access discipline.
type Cache struct {
	mu sync.Mutex

	maxBytes   int64
	maxEntries int

	ll    *list.List // front = most recently used
	items map[string]*list.Element

	curBytes int64
	hits     int64
	misses   int64
}

type cacheElem struct {
	path string
	e    entry
}

// NewCache returns an empty cache bounded by maxBytes total content
// bytes and maxEntries total entries.
func NewCache(maxBytes int64, maxEntries int) *Cache {
	return &Cache{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the cached entry for path, moving it to most-recently-used
// position on a hit.
func (c *Cache) Get(path string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[path]
	if !ok {
		c.misses++
		return entry{}, false
	}
	c.hits++
	c.ll.MoveToFront(el)
	return el.Value.(*cacheElem).e, true
}

// Put inserts or replaces path's entry, then evicts least-recently-used
// entries until both bounds are satisfied.
func (c *Cache) Put(path string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[path]; ok {
		old := el.Value.(*cacheElem).e
		c.curBytes += e.size - old.size
		el.Value.(*cacheElem).e = e
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheElem{path: path, e: e})
		c.items[path] = el
		c.curBytes += e.size
	}
	c.evictLocked()
}

// Invalidate drops path from the cache, if present — used when a file's
// mtime/etag changes underneath an already-cached entry.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[path]; ok {
		c.removeElemLocked(el)
	}
}

func (c *Cache) evictLocked() {
	for c.curBytes > c.maxBytes || (c.maxEntries > 0 && len(c.items) > c.maxEntries) {
		back := c.ll.Back()
		if back == nil {
			return
		}
		c.removeElemLocked(back)
	}
}

func (c *Cache) removeElemLocked(el *list.Element) {
	ce := el.Value.(*cacheElem)
	c.ll.Remove(el)
	delete(c.items, ce.path)
	c.curBytes -= ce.e.size
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.curBytes = 0
}

// Eligible reports whether a file of the given size falls under the
// per-file caching threshold at all.
func (c *Cache) Eligible(size, threshold int64) bool {
	return size <= threshold
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries: len(c.items),
		Bytes:   c.curBytes,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

func newEntry(data []byte, contentType string, modTime time.Time, etag string) entry {
	return entry{data: data, contentType: contentType, modTime: modTime, etag: etag, size: int64(len(data))}
}
