package cache

import (
	"container/list"
	"slices"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

const (
	defaultMaxEntries = 256
	defaultMaxBytes   = 32 << 20
)

// LRU is an in-memory Manifests cache bounded by entry count and total
// content size, evicting the least recently used entry first. Entries may
// additionally expire after a TTL.
type LRU struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	maxBytes   int64
	size       int64
	now        func() time.Time
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
}

type lruEntry struct {
	key     string
	entry   Entry
	expires time.Time
}

// LRUOption configures an LRU.
type LRUOption func(*LRU)

// WithMaxEntries bounds the number of cached manifests.
func WithMaxEntries(n int) LRUOption {
	return func(c *LRU) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithMaxBytes bounds the total size of cached content.
func WithMaxBytes(n int64) LRUOption {
	return func(c *LRU) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithTTL expires entries d after they were stored. Zero keeps entries
// until evicted.
func WithTTL(d time.Duration) LRUOption {
	return func(c *LRU) {
		c.ttl = max(d, 0)
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) LRUOption {
	return func(c *LRU) {
		if now != nil {
			c.now = now
		}
	}
}

// NewLRU creates an empty cache.
func NewLRU(opts ...LRUOption) *LRU {
	c := &LRU{
		maxEntries: defaultMaxEntries,
		maxBytes:   defaultMaxBytes,
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(repo string, dgst digest.Digest) string {
	return repo + "@" + dgst.String()
}

// Get returns the cached manifest and promotes it to most recently used.
// The returned content is a copy.
func (c *LRU) Get(repo string, dgst digest.Digest) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(repo, dgst)
	elem, ok := c.entries[k]
	if !ok {
		return Entry{}, false
	}
	e := elem.Value.(*lruEntry) //nolint:errcheck // type is guaranteed by Put
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.removeLocked(elem)
		return Entry{}, false
	}

	c.order.MoveToFront(elem)
	return Entry{MediaType: e.entry.MediaType, Content: slices.Clone(e.entry.Content)}, true
}

// Put stores entry, evicting least recently used entries to stay within
// bounds. Content larger than the byte bound is not cached.
func (c *LRU) Put(repo string, dgst digest.Digest, entry Entry) {
	size := int64(len(entry.Content))
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(repo, dgst)
	if elem, ok := c.entries[k]; ok {
		c.removeLocked(elem)
	}

	for c.order.Len() > 0 && (c.order.Len() >= c.maxEntries || c.size+size > c.maxBytes) {
		c.removeLocked(c.order.Back())
	}

	e := &lruEntry{
		key:   k,
		entry: Entry{MediaType: entry.MediaType, Content: slices.Clone(entry.Content)},
	}
	if c.ttl > 0 {
		e.expires = c.now().Add(c.ttl)
	}
	c.entries[k] = c.order.PushFront(e)
	c.size += size
}

// Delete removes repo@dgst.
func (c *LRU) Delete(repo string, dgst digest.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key(repo, dgst)]; ok {
		c.removeLocked(elem)
	}
}

// Len returns the number of cached manifests.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SizeBytes returns the total size of cached content.
func (c *LRU) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// removeLocked removes an element from both the list and map.
// Caller must hold c.mu.
func (c *LRU) removeLocked(elem *list.Element) {
	e := elem.Value.(*lruEntry) //nolint:errcheck // type is guaranteed by Put
	c.order.Remove(elem)
	delete(c.entries, e.key)
	c.size -= int64(len(e.entry.Content))
}
