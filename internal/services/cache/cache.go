// Package cache holds rendered page images in memory.
//
// The cache is an explicit instance built once at startup and handed to
// every consumer. Entries expire after a TTL and the oldest-inserted entry
// is evicted once capacity is reached.
package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Defaults.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 100
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "page_cache_hits_total",
		Help: "Page image requests served from the in-memory cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "page_cache_misses_total",
		Help: "Page image requests not found in the cache, including expired entries.",
	})
	cacheRemovalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "page_cache_removals_total",
		Help: "Entries dropped by capacity eviction, expiry or document purge.",
	})
)

// Key identifies one rendering of one page. Distinct render options are
// distinct entries.
type Key struct {
	DocumentID string
	PageNumber int
	Width      int
	Height     int
	Quality    string
	Format     string
	Watermark  string
}

func (k Key) String() string {
	s := fmt.Sprintf("%s:%d:%dx%d:%s:%s", k.DocumentID, k.PageNumber, k.Width, k.Height, k.Quality, k.Format)
	if k.Watermark != "" {
		s += ":wm=" + k.Watermark
	}
	return s
}

// Entry is a cached rendering.
type Entry struct {
	Data       []byte
	InsertedAt time.Time
	hits       atomic.Int64
}

// Hits returns how many times the entry has been served.
func (e *Entry) Hits() int64 { return e.hits.Load() }

// PageCache is safe for concurrent use.
//
// Reads use Peek, which never touches recency, so the underlying LRU list
// stays in insertion order and capacity eviction removes the
// oldest-inserted entry.
type PageCache struct {
	lru *expirable.LRU[Key, *Entry]
	ttl time.Duration
}

// New creates a cache. Non-positive arguments use the defaults.
func New(maxSize int, ttl time.Duration) *PageCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	onEvict := func(Key, *Entry) { cacheRemovalsTotal.Inc() }
	return &PageCache{
		lru: expirable.NewLRU[Key, *Entry](maxSize, onEvict, ttl),
		ttl: ttl,
	}
}

// Get returns the cached bytes for key. An expired entry is a miss and is
// purged on the spot.
func (c *PageCache) Get(key Key) ([]byte, bool) {
	e, ok := c.lru.Peek(key)
	if !ok || time.Since(e.InsertedAt) >= c.ttl {
		if c.lru.Contains(key) {
			c.lru.Remove(key)
		}
		cacheMissesTotal.Inc()
		return nil, false
	}
	e.hits.Add(1)
	cacheHitsTotal.Inc()
	return e.Data, true
}

// Put stores data under key. Re-putting a key counts as a fresh insert.
func (c *PageCache) Put(key Key, data []byte) {
	c.lru.Add(key, &Entry{Data: data, InsertedAt: time.Now()})
}

// Len returns the number of entries, including not-yet-purged expired ones.
func (c *PageCache) Len() int {
	return c.lru.Len()
}

// PurgeDocument drops every entry of a document.
func (c *PageCache) PurgeDocument(documentID string) int {
	removed := 0
	for _, k := range c.lru.Keys() {
		if k.DocumentID == documentID && c.lru.Remove(k) {
			removed++
		}
	}
	return removed
}

// Purge empties the cache.
func (c *PageCache) Purge() {
	c.lru.Purge()
}
