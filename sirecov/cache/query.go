package cache

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

// Namespace groups cache keys by the kind of query that produced them.
type Namespace string

const (
	NamespaceCountry Namespace = "country"
	NamespaceDate    Namespace = "date"
	NamespaceStats   Namespace = "stats"
	NamespaceRange   Namespace = "range"
)

// TTLs holds the lifetime of each namespace.
type TTLs struct {
	Country time.Duration
	Date    time.Duration
	Stats   time.Duration
	Range   time.Duration
}

// DefaultTTLs mirrors the cache.ttl.* config defaults.
var DefaultTTLs = TTLs{
	Country: 10 * time.Minute,
	Date:    5 * time.Minute,
	Stats:   2 * time.Minute,
	Range:   8 * time.Minute,
}

func (t TTLs) of(ns Namespace) (time.Duration, bool) {
	switch ns {
	case NamespaceCountry:
		return t.Country, true
	case NamespaceDate:
		return t.Date, true
	case NamespaceStats:
		return t.Stats, true
	case NamespaceRange:
		return t.Range, true
	}
	return 0, false
}

// Key builds the full cache key for id within ns. Country ids are folded to
// the same form the country index uses.
func Key(ns Namespace, id string) string {
	if ns == NamespaceCountry {
		id = records.CountryKey(id)
	}
	return string(ns) + ":" + id
}

// RangeID joins range bounds into a range namespace id.
func RangeID(start, end string) string {
	return start + ":" + end
}

// QueryCache is a ResultCache partitioned into namespaces, each with its own
// TTL, that knows which entries a newly accepted record makes stale.
type QueryCache struct {
	results *ResultCache[any]
	ttls    TTLs
	logger  zerolog.Logger
}

// NewQueryCache wraps results. Namespaces without a positive TTL fall back to
// the ResultCache default TTL.
func NewQueryCache(results *ResultCache[any], ttls TTLs, logger zerolog.Logger) *QueryCache {
	return &QueryCache{
		results: results,
		ttls:    ttls,
		logger:  logger.With().Str("component", "query-cache").Logger(),
	}
}

// Get looks up id in ns.
func (q *QueryCache) Get(ns Namespace, id string) (any, bool) {
	return q.results.Get(Key(ns, id))
}

// Put stores value under id in ns using the namespace TTL.
func (q *QueryCache) Put(ns Namespace, id string, value any) {
	ttl, ok := q.ttls.of(ns)
	if !ok || ttl <= 0 {
		q.results.Set(Key(ns, id), value)
		return
	}
	q.results.SetWithTTL(Key(ns, id), value, ttl)
}

// PutWithTTL stores value under id in ns with an explicit TTL.
func (q *QueryCache) PutWithTTL(ns Namespace, id string, value any, ttl time.Duration) {
	q.results.SetWithTTL(Key(ns, id), value, ttl)
}

// Delete removes id from ns.
func (q *QueryCache) Delete(ns Namespace, id string) bool {
	return q.results.Delete(Key(ns, id))
}

// InvalidateForRecord drops every entry r could have changed: its country
// and date lookups plus all statistics and range results. It returns the
// number of entries removed.
func (q *QueryCache) InvalidateForRecord(r records.Record) int {
	countryKey := ""
	if records.CountryKey(r.Country) != "" {
		countryKey = Key(NamespaceCountry, r.Country)
	}
	dateKey := ""
	if d := strings.TrimSpace(r.Date); d != "" {
		dateKey = Key(NamespaceDate, d)
	}
	statsPrefix := string(NamespaceStats) + ":"
	rangePrefix := string(NamespaceRange) + ":"

	removed := q.results.DeleteFunc(func(key string) bool {
		return key == countryKey || key == dateKey ||
			strings.HasPrefix(key, statsPrefix) || strings.HasPrefix(key, rangePrefix)
	})
	if removed > 0 {
		q.logger.Debug().Str("record", r.NaturalKey()).Int("removed", removed).Msg("invalidated cached queries")
	}
	return removed
}

// Cleanup evicts expired entries, letting a Sweeper drive a QueryCache.
func (q *QueryCache) Cleanup() int { return q.results.Cleanup() }

// Purge drops every entry.
func (q *QueryCache) Purge() { q.results.Purge() }

// Len returns the number of resident entries.
func (q *QueryCache) Len() int { return q.results.Len() }

// Keys returns the unexpired full keys, most recent first.
func (q *QueryCache) Keys() []string { return q.results.Keys() }

// Entries describes up to limit entries.
func (q *QueryCache) Entries(limit int) []EntryInfo { return q.results.Entries(limit) }

// Stats returns the underlying cache counters.
func (q *QueryCache) Stats() Stats { return q.results.Stats() }
