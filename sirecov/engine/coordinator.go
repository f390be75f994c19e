package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

// indexSet is one generation of the derived structures. RebuildAll fills a
// fresh set off to the side and swaps it in whole.
type indexSet struct {
	byCountry *indexing.HashIndex[records.Record]
	byDate    *indexing.HashIndex[records.Record]
	byType    *indexing.HashIndex[records.Record]
	countries *indexing.PrefixIndex
	byRange   *indexing.RangeIndex[records.Record]
	priority  *indexing.PriorityStore
	filter    *indexing.RecordFilter
}

func newIndexSet(opts Options, expected int) *indexSet {
	return &indexSet{
		byCountry: indexing.NewHashIndex[records.Record](opts.HashInitialCapacity),
		byDate:    indexing.NewHashIndex[records.Record](opts.HashInitialCapacity),
		byType:    indexing.NewHashIndex[records.Record](opts.HashInitialCapacity),
		countries: indexing.NewPrefixIndex(),
		byRange:   indexing.NewRangeIndex[records.Record](opts.RangeDegree),
		priority:  indexing.NewPriorityStore(),
		filter:    indexing.NewRecordFilter(expected, opts.FilterFalsePositiveRate),
	}
}

// Coordinator owns every index structure plus the query cache and keeps
// them consistent with the backing store: after ApplyNewRecord returns,
// each structure reflects the record exactly once.
//
// writeMu serializes the mutators so a record applied while RebuildAll is
// filling the next set waits for the swap instead of landing in the old one.
// mu guards the live set and is the only lock readers take.
type Coordinator struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	opts    Options
	indexes *indexSet
	cache   *cache.QueryCache

	records     int
	built       bool
	generation  uuid.UUID
	lastRebuild time.Duration
	rebuiltAt   time.Time

	queries queryCounters
	logger  zerolog.Logger

	// beforeSwap runs after a rebuild fills its set and before the swap.
	beforeSwap func()
}

// NewCoordinator creates a coordinator with empty structures. Options left
// at zero take their defaults.
func NewCoordinator(opts Options, qc *cache.QueryCache, logger zerolog.Logger) *Coordinator {
	def := DefaultOptions()
	if opts.RangeDegree < 2 {
		opts.RangeDegree = def.RangeDegree
	}
	if opts.HashInitialCapacity <= 0 {
		opts.HashInitialCapacity = def.HashInitialCapacity
	}
	if opts.FilterExpectedItems <= 0 {
		opts.FilterExpectedItems = def.FilterExpectedItems
	}
	if opts.FilterFalsePositiveRate <= 0 || opts.FilterFalsePositiveRate >= 1 {
		opts.FilterFalsePositiveRate = def.FilterFalsePositiveRate
	}
	if qc == nil {
		qc = cache.NewQueryCache(cache.New[any](cache.DefaultCapacity), cache.DefaultTTLs, logger)
	}

	return &Coordinator{
		opts:    opts,
		indexes: newIndexSet(opts, opts.FilterExpectedItems),
		cache:   qc,
		logger:  logger.With().Str("component", "coordinator").Logger(),
	}
}

// filterCapacity keeps the filter sized for at least twice the loaded
// records so appends do not push it past its target rate right away.
func (c *Coordinator) filterCapacity(n int) int {
	return max(c.opts.FilterExpectedItems, 2*n)
}

// RebuildAll replaces every structure with one built from recs in stream
// order and empties the cache. Invalid and duplicate records are skipped.
// The structures are independent, so each is filled on its own goroutine; a
// panic in any of them is re-raised here. Calling it again with the same
// records yields the same state. ApplyNewRecord and Clear block until it
// returns.
func (c *Coordinator) RebuildAll(recs []records.Record) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	start := time.Now()
	gen := uuid.New()
	recs = c.normalizeAll(recs)
	c.logger.Info().Str("generation", gen.String()).Int("records", len(recs)).Msg("rebuilding indexes")

	set := newIndexSet(c.opts, c.filterCapacity(len(recs)))

	var wg conc.WaitGroup
	wg.Go(func() {
		for _, r := range recs {
			set.byCountry.Add(records.CountryKey(r.Country), r)
		}
	})
	wg.Go(func() {
		for _, r := range recs {
			set.byDate.Add(r.Date, r)
		}
	})
	wg.Go(func() {
		for _, r := range recs {
			set.byType.Add(string(r.Type), r)
		}
	})
	wg.Go(func() {
		for _, r := range recs {
			set.countries.Insert(r.Country)
		}
	})
	wg.Go(func() {
		for _, r := range recs {
			set.byRange.Insert(r.Date, r)
		}
	})
	wg.Go(func() {
		for _, r := range recs {
			set.priority.Enqueue(r)
		}
	})
	wg.Go(func() {
		set.filter.AddBatch(recs)
	})
	wg.Wait()

	if c.beforeSwap != nil {
		c.beforeSwap()
	}

	c.mu.Lock()
	c.indexes = set
	c.records = len(recs)
	c.built = true
	c.generation = gen
	c.lastRebuild = time.Since(start)
	c.rebuiltAt = time.Now()
	c.cache.Purge()
	elapsed := c.lastRebuild
	c.mu.Unlock()

	c.logger.Info().
		Str("generation", gen.String()).
		Int("records", len(recs)).
		Dur("duration", elapsed).
		Msg("indexes rebuilt")
}

// normalizeAll returns the normalized valid records of recs, logging and
// dropping the rest so every structure sees the same set. A record whose
// natural key was already seen is dropped too; the first line wins, as it
// does when Service.Sync meets a key that is already indexed.
func (c *Coordinator) normalizeAll(recs []records.Record) []records.Record {
	out := make([]records.Record, 0, len(recs))
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		r = r.Normalize()
		if err := records.Validate(r); err != nil {
			c.logger.Warn().Err(err).Str("record", r.String()).Msg("skipping invalid record during rebuild")
			continue
		}
		key := r.NaturalKey()
		if _, dup := seen[key]; dup {
			c.logger.Warn().Str("record", key).Msg("skipping duplicate record during rebuild")
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ApplyNewRecord adds a record that the caller has already appended to the
// backing store. It inserts into the date, country and type indexes, the
// prefix index, the range index, the priority store and the membership
// filter, in that order, then drops the cache entries the record makes stale.
// A structure failing mid-way is an index bug and panics. A call made during
// RebuildAll waits and lands in the rebuilt set.
func (c *Coordinator) ApplyNewRecord(r records.Record) error {
	r = r.Normalize()
	if err := records.Validate(r); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.indexes
	s.byDate.Add(r.Date, r)
	s.byCountry.Add(records.CountryKey(r.Country), r)
	s.byType.Add(string(r.Type), r)
	s.countries.Insert(r.Country)
	s.byRange.Insert(r.Date, r)
	if !s.priority.Enqueue(r) {
		panic(&indexing.InvariantError{Structure: "priority store", Detail: "validated record rejected: " + r.NaturalKey()})
	}
	s.filter.AddRecord(r)
	c.records++

	removed := c.cache.InvalidateForRecord(r)
	c.logger.Debug().
		Str("record", r.NaturalKey()).
		Int("invalidated", removed).
		Msg("applied record")

	if s.filter.NearCapacity() {
		c.logger.Warn().Int("items", s.filter.Len()).Msg("membership filter near capacity, rebuild to resize")
	}
	return nil
}

// Built reports whether RebuildAll has run at least once.
func (c *Coordinator) Built() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.built
}

// Len returns the number of records indexed.
func (c *Coordinator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.records
}

// Clear empties every structure and the cache. The coordinator counts as
// unbuilt until the next RebuildAll.
func (c *Coordinator) Clear() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.indexes = newIndexSet(c.opts, c.opts.FilterExpectedItems)
	c.records = 0
	c.built = false
	c.generation = uuid.Nil
	c.cache.Purge()
	c.queries.reset()

	c.logger.Info().Msg("indexes cleared")
}

// Validate checks the range index invariants and that every structure
// accounts for the same number of records.
func (c *Coordinator) Validate() []error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.indexes
	errs := s.byRange.Validate()

	counts := map[string]int{
		"range index":    s.byRange.Len(),
		"priority store": s.priority.Len(),
		"date index":     s.byDate.Stats().Values,
		"country index":  s.byCountry.Stats().Values,
		"type index":     s.byType.Stats().Values,
		"prefix index":   s.countries.Stats().Insertions,
		"filter":         s.filter.Len(),
	}
	for name, n := range counts {
		if n != c.records {
			errs = append(errs, fmt.Errorf("%s holds %d records, expected %d", name, n, c.records))
		}
	}

	if len(errs) > 0 {
		c.logger.Warn().Int("error_count", len(errs)).Msg("index validation found issues")
	} else {
		c.logger.Debug().Msg("index validation passed")
	}
	return errs
}
