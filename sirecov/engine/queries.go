package engine

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

// CountrySummary aggregates the records of one country.
type CountrySummary struct {
	Country    string                     `json:"country"`
	Records    int                        `json:"records"`
	TotalCases int64                      `json:"totalCases"`
	LastUpdate string                     `json:"lastUpdate"`
	ByType     map[records.CaseType]int64 `json:"byType"`
}

// LookupByCountry returns every record of a country, matched without regard
// to case or surrounding spaces.
func (c *Coordinator) LookupByCountry(name string) []records.Record {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(countryQuery, start, false)

	return c.indexes.byCountry.Find(records.CountryKey(name))
}

// LookupByDate returns every record for an exact YYYY-MM-DD date.
func (c *Coordinator) LookupByDate(date string) []records.Record {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(dateQuery, start, false)

	return c.indexes.byDate.Find(strings.TrimSpace(date))
}

// LookupByType returns every record of one case type in insertion order.
// The type is matched without regard to case.
func (c *Coordinator) LookupByType(caseType string) []records.Record {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(typeQuery, start, false)

	return c.indexes.byType.Find(strings.ToLower(strings.TrimSpace(caseType)))
}

// AutocompleteCountry ranks known countries starting with prefix. A
// non-positive limit means indexing.DefaultAutocompleteLimit.
func (c *Coordinator) AutocompleteCountry(prefix string, limit int) []indexing.Suggestion {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(prefixQuery, start, false)

	return c.indexes.countries.Autocomplete(prefix, limit)
}

// RangeByDate returns the records dated within [start, end] in ascending
// date order.
func (c *Coordinator) RangeByDate(startDate, endDate string) []records.Record {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(rangeQuery, start, false)

	return c.indexes.byRange.RangeSearch(strings.TrimSpace(startDate), strings.TrimSpace(endDate))
}

// TopCritical returns up to k records by descending severity without
// disturbing the priority store.
func (c *Coordinator) TopCritical(k int) []records.Record {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	defer c.queries.observe(priorityQuery, start, false)

	return c.indexes.priority.TopK(k)
}

// MightExist is false only when no record with r's natural key was indexed.
func (c *Coordinator) MightExist(r records.Record) bool {
	start := time.Now()
	// The filter tallies its checks, so this takes the write lock.
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.queries.observe(membershipCheck, start, false)

	return c.indexes.filter.MightContainRecord(r)
}

// FindRecord returns the record with the natural key built from the given
// parts, short-circuiting on the membership filter before scanning the
// date's records.
func (c *Coordinator) FindRecord(country, date, caseType string) (records.Record, bool) {
	key := records.BuildKey(country, date, caseType)
	if key == "" {
		return records.Record{}, false
	}

	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.queries.observe(membershipCheck, start, false)

	if !c.indexes.filter.MightContain(key) {
		return records.Record{}, false
	}
	for _, r := range c.indexes.byDate.Find(strings.TrimSpace(date)) {
		if r.NaturalKey() == key {
			return r, true
		}
	}
	return records.Record{}, false
}

// CacheGet reads a cached query result.
func (c *Coordinator) CacheGet(ns cache.Namespace, id string) (any, bool) {
	return c.cache.Get(ns, id)
}

// CachePut stores a query result. A zero ttl uses the namespace TTL and a
// negative one never expires.
func (c *Coordinator) CachePut(ns cache.Namespace, id string, value any, ttl time.Duration) {
	if ttl == 0 {
		c.cache.Put(ns, id, value)
		return
	}
	c.cache.PutWithTTL(ns, id, value, ttl)
}

// cachedRecords serves ns/id from the cache or computes it with lookup under
// the read lock and caches the result. Holding the read lock across both
// steps keeps ApplyNewRecord's invalidation from interleaving.
func (c *Coordinator) cachedRecords(kind queryKind, ns cache.Namespace, id string, lookup func(*indexSet) []records.Record) ([]records.Record, bool) {
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.cache.Get(ns, id); ok {
		if rs, ok := v.([]records.Record); ok {
			c.queries.observe(kind, start, true)
			return slices.Clone(rs), true
		}
	}

	rs := lookup(c.indexes)
	c.cache.Put(ns, id, slices.Clone(rs))
	c.queries.observe(kind, start, false)
	return rs, false
}

// CountryRecords is LookupByCountry through the query cache. The second
// result reports a cache hit.
func (c *Coordinator) CountryRecords(name string) ([]records.Record, bool) {
	key := records.CountryKey(name)
	return c.cachedRecords(countryQuery, cache.NamespaceCountry, key, func(s *indexSet) []records.Record {
		return s.byCountry.Find(key)
	})
}

// DateRecords is LookupByDate through the query cache.
func (c *Coordinator) DateRecords(date string) ([]records.Record, bool) {
	date = strings.TrimSpace(date)
	return c.cachedRecords(dateQuery, cache.NamespaceDate, date, func(s *indexSet) []records.Record {
		return s.byDate.Find(date)
	})
}

// RangeRecords is RangeByDate through the query cache.
func (c *Coordinator) RangeRecords(startDate, endDate string) ([]records.Record, bool) {
	startDate, endDate = strings.TrimSpace(startDate), strings.TrimSpace(endDate)
	return c.cachedRecords(rangeQuery, cache.NamespaceRange, cache.RangeID(startDate, endDate), func(s *indexSet) []records.Record {
		return s.byRange.RangeSearch(startDate, endDate)
	})
}

// CountrySummary totals a country's records, caching the result in the
// stats namespace. It reports false when the country has no records.
func (c *Coordinator) CountrySummary(name string) (CountrySummary, bool) {
	key := records.CountryKey(name)
	if key == "" {
		return CountrySummary{}, false
	}
	id := "country:" + key

	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.cache.Get(cache.NamespaceStats, id); ok {
		if sum, ok := v.(CountrySummary); ok {
			c.queries.observe(countryQuery, start, true)
			sum.ByType = maps.Clone(sum.ByType)
			return sum, true
		}
	}

	rs := c.indexes.byCountry.Find(key)
	c.queries.observe(countryQuery, start, false)
	if len(rs) == 0 {
		return CountrySummary{}, false
	}

	sum := CountrySummary{
		Country: rs[0].Country,
		Records: len(rs),
		ByType:  make(map[records.CaseType]int64, len(records.CaseTypes)),
	}
	for _, r := range rs {
		sum.TotalCases += r.Cases
		sum.ByType[r.Type] += r.Cases
		if r.Date > sum.LastUpdate {
			sum.LastUpdate = r.Date
		}
	}
	c.cache.Put(cache.NamespaceStats, id, sum)
	return sum, true
}
