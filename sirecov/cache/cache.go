package cache

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity is used when a non-positive capacity is requested.
	DefaultCapacity = 1000
	// DefaultEntriesLimit caps Entries when no positive limit is given.
	DefaultEntriesLimit = 10

	none = -1
)

// Option customizes a ResultCache.
type Option func(*options)

type options struct {
	now        func() time.Time
	defaultTTL time.Duration
}

// WithClock replaces time.Now, letting tests move time by hand.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDefaultTTL sets the TTL applied by Set. Zero or negative means entries
// written through Set never expire.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) { o.defaultTTL = ttl }
}

// Stats is a snapshot of cache counters. HitRate is hits over lookups in
// [0,1]; Utilization is size over capacity.
type Stats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
	HitRate     float64 `json:"hitRate"`
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	Expirations int64   `json:"expirations"`
}

// EntryInfo describes one resident entry without exposing its value.
type EntryInfo struct {
	Key         string        `json:"key"`
	Age         time.Duration `json:"age"`
	Idle        time.Duration `json:"idle"`
	AccessCount int64         `json:"accessCount"`
	TTL         time.Duration `json:"ttl"`
}

// slot is one arena cell. prev/next are arena indexes forming the recency
// list, head being the most recently used.
type slot[V any] struct {
	key         string
	value       V
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
	ttl         time.Duration
	prev, next  int
}

// ResultCache is a capacity and TTL bounded LRU cache. Entries live in an
// arena addressed by index; a map resolves keys to arena slots and freed
// slots are recycled. Expiry is detected on access, so a sweep is never
// needed for correctness. It is safe for concurrent use.
type ResultCache[V any] struct {
	mu       sync.Mutex
	capacity int
	opts     options

	slots []slot[V]
	index map[string]int
	free  []int
	head  int
	tail  int

	hits, misses, sets, deletes, evictions, expirations int64
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int, opts ...Option) *ResultCache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ResultCache[V]{
		capacity: capacity,
		opts:     o,
		index:    make(map[string]int, capacity),
		head:     none,
		tail:     none,
	}
}

func (c *ResultCache[V]) expired(s *slot[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(s.createdAt) > s.ttl
}

func (c *ResultCache[V]) unlink(i int) {
	s := &c.slots[i]
	if s.prev != none {
		c.slots[s.prev].next = s.next
	} else {
		c.head = s.next
	}
	if s.next != none {
		c.slots[s.next].prev = s.prev
	} else {
		c.tail = s.prev
	}
	s.prev, s.next = none, none
}

func (c *ResultCache[V]) pushFront(i int) {
	s := &c.slots[i]
	s.prev = none
	s.next = c.head
	if c.head != none {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == none {
		c.tail = i
	}
}

// remove unlinks slot i, forgets its key and recycles the slot.
func (c *ResultCache[V]) remove(i int) {
	c.unlink(i)
	delete(c.index, c.slots[i].key)
	c.slots[i] = slot[V]{prev: none, next: none}
	c.free = append(c.free, i)
}

func (c *ResultCache[V]) alloc() int {
	if n := len(c.free); n > 0 {
		i := c.free[n-1]
		c.free = c.free[:n-1]
		return i
	}
	c.slots = append(c.slots, slot[V]{prev: none, next: none})
	return len(c.slots) - 1
}

// Get returns the value for key and promotes it to most recently used. An
// expired entry is evicted and reported as a miss.
func (c *ResultCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	i, ok := c.index[key]
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.opts.now()
	s := &c.slots[i]
	if c.expired(s, now) {
		c.remove(i)
		c.misses++
		c.expirations++
		return zero, false
	}

	s.lastAccess = now
	s.accessCount++
	c.unlink(i)
	c.pushFront(i)
	c.hits++
	return s.value, true
}

// Set stores value under key with the cache's default TTL.
func (c *ResultCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.opts.defaultTTL)
}

// SetWithTTL stores value under key. A ttl of zero or less never expires.
// Updating an existing key resets its age and makes it most recently used;
// inserting into a full cache first evicts the least recently used entry.
func (c *ResultCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	c.sets++

	if i, ok := c.index[key]; ok {
		s := &c.slots[i]
		s.value = value
		s.ttl = ttl
		s.createdAt = now
		s.lastAccess = now
		s.accessCount++
		c.unlink(i)
		c.pushFront(i)
		return
	}

	if len(c.index) >= c.capacity && c.tail != none {
		c.remove(c.tail)
		c.evictions++
	}

	i := c.alloc()
	c.slots[i] = slot[V]{
		key:         key,
		value:       value,
		createdAt:   now,
		lastAccess:  now,
		accessCount: 1,
		ttl:         ttl,
		prev:        none,
		next:        none,
	}
	c.index[key] = i
	c.pushFront(i)
}

// Has reports whether key is resident and unexpired. It does not touch
// recency or hit counters.
func (c *ResultCache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		return false
	}
	if c.expired(&c.slots[i], c.opts.now()) {
		c.remove(i)
		c.expirations++
		return false
	}
	return true
}

// Delete removes key, reporting whether it was present.
func (c *ResultCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := c.index[key]
	if !ok {
		return false
	}
	c.remove(i)
	c.deletes++
	return true
}

// DeleteFunc removes every entry whose key satisfies match and returns how
// many were removed.
func (c *ResultCache[V]) DeleteFunc(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for i := c.head; i != none; {
		next := c.slots[i].next
		if match(c.slots[i].key) {
			c.remove(i)
			c.deletes++
			removed++
		}
		i = next
	}
	return removed
}

// cleanupLocked evicts every expired entry. c.mu must be held.
func (c *ResultCache[V]) cleanupLocked() int {
	now := c.opts.now()
	removed := 0
	for i := c.head; i != none; {
		next := c.slots[i].next
		if c.expired(&c.slots[i], now) {
			c.remove(i)
			removed++
		}
		i = next
	}
	c.expirations += int64(removed)
	return removed
}

// Cleanup evicts every expired entry and returns how many were removed.
func (c *ResultCache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked()
}

// Keys returns the unexpired keys from most to least recently used.
func (c *ResultCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	keys := make([]string, 0, len(c.index))
	for i := c.head; i != none; i = c.slots[i].next {
		keys = append(keys, c.slots[i].key)
	}
	return keys
}

// Entries describes up to limit unexpired entries, most recent first.
func (c *ResultCache[V]) Entries(limit int) []EntryInfo {
	if limit <= 0 {
		limit = DefaultEntriesLimit
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	out := make([]EntryInfo, 0, min(limit, len(c.index)))
	for i := c.head; i != none && len(out) < limit; i = c.slots[i].next {
		s := &c.slots[i]
		if c.expired(s, now) {
			continue
		}
		out = append(out, EntryInfo{
			Key:         s.key,
			Age:         now.Sub(s.createdAt),
			Idle:        now.Sub(s.lastAccess),
			AccessCount: s.accessCount,
			TTL:         s.ttl,
		})
	}
	return out
}

// Purge drops every entry. Hit and miss counters survive so the hit rate
// keeps its history; the other counters restart.
func (c *ResultCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.slots = nil
	c.free = nil
	c.index = make(map[string]int, c.capacity)
	c.head, c.tail = none, none
	c.sets, c.deletes, c.evictions, c.expirations = 0, 0, 0, 0
}

// Len returns the number of resident entries, expired or not.
func (c *ResultCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Capacity returns the maximum number of entries.
func (c *ResultCache[V]) Capacity() int { return c.capacity }

// Stats returns a snapshot of the counters.
func (c *ResultCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Size:        len(c.index),
		Capacity:    c.capacity,
		Utilization: float64(len(c.index)) / float64(c.capacity),
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		Deletes:     c.deletes,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}
