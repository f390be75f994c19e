package indexing

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

const (
	// DefaultHashCapacity is the initial bucket count of a HashIndex.
	DefaultHashCapacity = 2048
	maxLoadFactor       = 0.75
)

// HashIndexStats is a diagnostics snapshot of a HashIndex.
type HashIndexStats struct {
	Keys         int
	Values       int
	Buckets      int
	LoadFactor   float64
	LongestChain int
	Rehashes     int
}

type hashEntry[V any] struct {
	key    string
	values []V
}

// HashIndex is a separate-chaining hash table mapping an exact string key to
// the ordered list of values added under it. Keys are compared verbatim;
// normalization is the caller's job.
type HashIndex[V any] struct {
	buckets  [][]*hashEntry[V]
	initial  int
	keys     int
	values   int
	rehashes int
}

// NewHashIndex creates a table with the given initial bucket count.
func NewHashIndex[V any](initialCapacity int) *HashIndex[V] {
	if initialCapacity <= 0 {
		initialCapacity = DefaultHashCapacity
	}
	return &HashIndex[V]{
		buckets: make([][]*hashEntry[V], initialCapacity),
		initial: initialCapacity,
	}
}

// bucketFor folds the 64-bit xxhash down to 32 bits before taking the modulus.
func (h *HashIndex[V]) bucketFor(key string, buckets int) int {
	return int(uint32(xxhash.Sum64String(key)) % uint32(buckets))
}

func (h *HashIndex[V]) lookup(key string) *hashEntry[V] {
	for _, e := range h.buckets[h.bucketFor(key, len(h.buckets))] {
		if e.key == key {
			return e
		}
	}
	return nil
}

// Add appends value to the list stored under key. Empty keys are ignored.
func (h *HashIndex[V]) Add(key string, value V) {
	if key == "" {
		return
	}

	entry := h.lookup(key)
	if entry == nil {
		entry = &hashEntry[V]{key: key}
		i := h.bucketFor(key, len(h.buckets))
		h.buckets[i] = append(h.buckets[i], entry)
		h.keys++
	}
	entry.values = append(entry.values, value)
	h.values++

	if h.LoadFactor() > maxLoadFactor {
		h.rehash(len(h.buckets) * 2)
	}
}

// rehash moves whole entries into a larger table, so per-key value order is
// carried over untouched.
func (h *HashIndex[V]) rehash(newCapacity int) {
	next := make([][]*hashEntry[V], newCapacity)
	moved := 0
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			i := h.bucketFor(e.key, newCapacity)
			next[i] = append(next[i], e)
			moved++
		}
	}
	invariant(moved == h.keys, "hash index", "rehash moved %d entries, expected %d", moved, h.keys)

	h.buckets = next
	h.rehashes++
}

// Find returns a copy of the values stored under key, or an empty slice.
func (h *HashIndex[V]) Find(key string) []V {
	if key == "" {
		return []V{}
	}
	entry := h.lookup(key)
	if entry == nil {
		return []V{}
	}
	return slices.Clone(entry.values)
}

// Contains reports whether any value was added under key.
func (h *HashIndex[V]) Contains(key string) bool {
	return key != "" && h.lookup(key) != nil
}

// Keys returns every stored key in bucket order.
func (h *HashIndex[V]) Keys() []string {
	keys := make([]string, 0, h.keys)
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			keys = append(keys, e.key)
		}
	}
	return keys
}

// Len returns the number of distinct keys.
func (h *HashIndex[V]) Len() int { return h.keys }

// Buckets returns the current bucket count.
func (h *HashIndex[V]) Buckets() int { return len(h.buckets) }

// LoadFactor is stored keys divided by bucket count.
func (h *HashIndex[V]) LoadFactor() float64 {
	return float64(h.keys) / float64(len(h.buckets))
}

// Clear drops every entry and shrinks back to the initial bucket count.
func (h *HashIndex[V]) Clear() {
	h.buckets = make([][]*hashEntry[V], h.initial)
	h.keys = 0
	h.values = 0
	h.rehashes = 0
}

// Stats returns a diagnostics snapshot.
func (h *HashIndex[V]) Stats() HashIndexStats {
	longest := 0
	for _, bucket := range h.buckets {
		longest = max(longest, len(bucket))
	}
	return HashIndexStats{
		Keys:         h.keys,
		Values:       h.values,
		Buckets:      len(h.buckets),
		LoadFactor:   h.LoadFactor(),
		LongestChain: longest,
		Rehashes:     h.rehashes,
	}
}
