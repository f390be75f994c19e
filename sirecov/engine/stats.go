package engine

import (
	"sync"
	"time"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
)

// QueryStats tracks query traffic across all structures.
type QueryStats struct {
	TotalOperations  int64         `json:"totalOperations"`
	CountryQueries   int64         `json:"countryQueries"`
	DateQueries      int64         `json:"dateQueries"`
	TypeQueries      int64         `json:"typeQueries"`
	PrefixQueries    int64         `json:"prefixQueries"`
	RangeQueries     int64         `json:"rangeQueries"`
	PriorityQueries  int64         `json:"priorityQueries"`
	MembershipChecks int64         `json:"membershipChecks"`
	CacheHits        int64         `json:"cacheHits"`
	AverageQueryTime time.Duration `json:"averageQueryTime"`
}

type queryKind int

const (
	countryQuery queryKind = iota
	dateQuery
	typeQuery
	prefixQuery
	rangeQuery
	priorityQuery
	membershipCheck
)

type queryCounters struct {
	mu sync.Mutex
	s  QueryStats
}

func (q *queryCounters) observe(kind queryKind, start time.Time, cacheHit bool) {
	duration := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()

	switch kind {
	case countryQuery:
		q.s.CountryQueries++
	case dateQuery:
		q.s.DateQueries++
	case typeQuery:
		q.s.TypeQueries++
	case prefixQuery:
		q.s.PrefixQueries++
	case rangeQuery:
		q.s.RangeQueries++
	case priorityQuery:
		q.s.PriorityQueries++
	case membershipCheck:
		q.s.MembershipChecks++
	}
	if cacheHit {
		q.s.CacheHits++
	}
	q.s.TotalOperations++
	q.s.AverageQueryTime = ((q.s.AverageQueryTime * time.Duration(q.s.TotalOperations-1)) + duration) / time.Duration(q.s.TotalOperations)
}

func (q *queryCounters) snapshot() QueryStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.s
}

func (q *queryCounters) reset() {
	q.mu.Lock()
	q.s = QueryStats{}
	q.mu.Unlock()
}

// Stats aggregates the diagnostics of every structure. It is advisory only.
type Stats struct {
	Generation   string                         `json:"generation"`
	Built        bool                           `json:"built"`
	Records      int                            `json:"records"`
	LastRebuild  time.Duration                  `json:"lastRebuild"`
	RebuiltAt    time.Time                      `json:"rebuiltAt"`
	CountryIndex indexing.HashIndexStats        `json:"countryIndex"`
	DateIndex    indexing.HashIndexStats        `json:"dateIndex"`
	TypeIndex    indexing.HashIndexStats        `json:"typeIndex"`
	Prefix       indexing.PrefixIndexStats      `json:"prefix"`
	Range        indexing.RangeIndexStats       `json:"range"`
	Filter       indexing.MembershipFilterStats `json:"filter"`
	Priority     indexing.PriorityStoreStats    `json:"priority"`
	Cache        cache.Stats                    `json:"cache"`
	Queries      QueryStats                     `json:"queries"`
}

// Stats returns a diagnostics snapshot.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.indexes
	st := Stats{
		Built:        c.built,
		Records:      c.records,
		LastRebuild:  c.lastRebuild,
		RebuiltAt:    c.rebuiltAt,
		CountryIndex: s.byCountry.Stats(),
		DateIndex:    s.byDate.Stats(),
		TypeIndex:    s.byType.Stats(),
		Prefix:       s.countries.Stats(),
		Range:        s.byRange.Stats(),
		Filter:       s.filter.Stats(),
		Priority:     s.priority.Stats(),
		Cache:        c.cache.Stats(),
		Queries:      c.queries.snapshot(),
	}
	if c.built {
		st.Generation = c.generation.String()
	}
	return st
}
