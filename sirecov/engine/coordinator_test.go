package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sirecov/sirecov/cache"
	"github.com/ZanzyTHEbar/sirecov/sirecov/indexing"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

func rec(country, date string, typ records.CaseType, cases int64) records.Record {
	return records.Record{Country: country, Date: date, Type: typ, Cases: cases}
}

func sampleRecords() []records.Record {
	return []records.Record{
		rec("Colombia", "2021-01-01", records.Confirmed, 100),
		rec("Colombia", "2021-03-15", records.Confirmed, 300),
		rec("Colombia", "2021-02-10", records.Confirmed, 200),
		rec("Colombia", "2021-02-10", records.Death, 5),
		rec("Chile", "2021-02-10", records.Recovered, 40),
		rec("Canada", "2021-01-20", records.Death, 9),
		rec("Peru", "2021-01-01", records.Recovered, 12),
	}
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	opts := Options{RangeDegree: 2, HashInitialCapacity: 4, FilterExpectedItems: 1000, FilterFalsePositiveRate: 0.01}
	return NewCoordinator(opts, nil, zerolog.Nop())
}

func TestCoordinator(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"RebuildAllPopulatesEveryStructure", testCoordinatorRebuild},
		{"RebuildAllIsIdempotent", testCoordinatorRebuildIdempotent},
		{"RebuildSkipsInvalidRecords", testCoordinatorRebuildSkipsInvalid},
		{"RebuildKeepsFirstOfDuplicateKeys", testCoordinatorRebuildSkipsDuplicates},
		{"ApplyWaitsForRebuild", testCoordinatorApplyWaitsForRebuild},
		{"LookupByType", testCoordinatorLookupByType},
		{"ApplyNewRecordReachesEveryStructure", testCoordinatorApply},
		{"ApplyNewRecordInvalidatesCache", testCoordinatorApplyInvalidates},
		{"ApplyRejectsInvalid", testCoordinatorApplyRejectsInvalid},
		{"CachedReads", testCoordinatorCachedReads},
		{"CountrySummary", testCoordinatorCountrySummary},
		{"FindRecord", testCoordinatorFindRecord},
		{"StatsAndClear", testCoordinatorStatsAndClear},
		{"ConsistentUnderManyApplies", testCoordinatorManyApplies},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testCoordinatorRebuild(t *testing.T) {
	c := newTestCoordinator(t)
	assert.False(t, c.Built())
	assert.Empty(t, c.LookupByCountry("Colombia"), "queries before a rebuild answer empty")

	c.RebuildAll(sampleRecords())
	require.True(t, c.Built())
	assert.Equal(t, 7, c.Len())

	assert.Len(t, c.LookupByCountry("  COLOMBIA "), 4)
	assert.Len(t, c.LookupByDate("2021-02-10"), 3)
	assert.Empty(t, c.LookupByDate("2022-01-01"))
	assert.Len(t, c.LookupByType(string(records.Confirmed)), 3)

	got := c.RangeByDate("2021-01-01", "2021-02-28")
	dates := make([]string, len(got))
	for i, r := range got {
		dates[i] = r.Date
	}
	assert.Equal(t, []string{"2021-01-01", "2021-01-01", "2021-01-20", "2021-02-10", "2021-02-10", "2021-02-10"}, dates)
	assert.Empty(t, c.RangeByDate("2021-02-28", "2021-01-01"))

	assert.Equal(t, []indexing.Suggestion{{Word: "colombia", Frequency: 4}, {Word: "canada", Frequency: 1}, {Word: "chile", Frequency: 1}}, c.AutocompleteCountry("c", 0))

	top := c.TopCritical(3)
	require.Len(t, top, 3)
	assert.Equal(t, "Colombia", top[0].Country)
	assert.Equal(t, records.Death, top[0].Type)
	assert.Equal(t, "Canada", top[1].Country)
	assert.Equal(t, records.Confirmed, top[2].Type)
	assert.Len(t, c.TopCritical(100), 7)

	for _, r := range sampleRecords() {
		assert.True(t, c.MightExist(r))
	}
	assert.Empty(t, c.Validate())
}

func testCoordinatorRebuildIdempotent(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())
	first := c.Stats()

	c.RebuildAll(sampleRecords())
	second := c.Stats()

	assert.Equal(t, 7, c.Len())
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.Equal(t, first.Range.Size, second.Range.Size)
	assert.Equal(t, first.Prefix, second.Prefix)
	assert.Equal(t, first.Priority, second.Priority)
	assert.Equal(t, first.CountryIndex.Values, second.CountryIndex.Values)
	assert.Equal(t, first.Filter.BitsSet, second.Filter.BitsSet)
	assert.Len(t, c.LookupByCountry("colombia"), 4)
	assert.Empty(t, c.Validate())
}

func testCoordinatorRebuildSkipsInvalid(t *testing.T) {
	c := newTestCoordinator(t)
	recs := append(sampleRecords(),
		rec("", "2021-01-01", records.Confirmed, 1),
		rec("Peru", "2021-02-30", records.Confirmed, 1),
		rec("Peru", "2021-02-01", "unknown", 1),
	)
	c.RebuildAll(recs)

	assert.Equal(t, 7, c.Len())
	assert.Empty(t, c.Validate())
}

func testCoordinatorRebuildSkipsDuplicates(t *testing.T) {
	c := newTestCoordinator(t)
	recs := append(sampleRecords(),
		rec(" colombia ", "2021-01-01", "CONFIRMED", 999),
		rec("Peru", "2021-01-01", records.Recovered, 1),
	)
	c.RebuildAll(recs)

	assert.Equal(t, 7, c.Len())
	r, ok := c.FindRecord("Colombia", "2021-01-01", "confirmed")
	require.True(t, ok)
	assert.Equal(t, int64(100), r.Cases)
	assert.Len(t, c.LookupByCountry("peru"), 1)
	assert.Empty(t, c.Validate())
}

func testCoordinatorApplyWaitsForRebuild(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	building := make(chan struct{})
	release := make(chan struct{})
	c.beforeSwap = func() {
		close(building)
		<-release
	}

	rebuilt := make(chan struct{})
	go func() {
		defer close(rebuilt)
		c.RebuildAll(sampleRecords()[:3])
	}()
	<-building

	applied := make(chan error, 1)
	go func() {
		applied <- c.ApplyNewRecord(rec("Brazil", "2021-04-01", records.Death, 7))
	}()

	select {
	case err := <-applied:
		t.Fatalf("apply returned during a rebuild: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-rebuilt
	require.NoError(t, <-applied)

	assert.Equal(t, 4, c.Len())
	assert.Len(t, c.LookupByCountry("brazil"), 1, "the record lands in the rebuilt set")
	assert.Empty(t, c.Validate())
}

func testCoordinatorLookupByType(t *testing.T) {
	c := newTestCoordinator(t)
	assert.Empty(t, c.LookupByType("death"))

	c.RebuildAll(sampleRecords())
	deaths := c.LookupByType(" DEATH ")
	require.Len(t, deaths, 2)
	assert.Equal(t, "Colombia", deaths[0].Country)
	assert.Equal(t, "Canada", deaths[1].Country)
	assert.Len(t, c.LookupByType("recovered"), 2)
	assert.Empty(t, c.LookupByType("hospitalized"))

	assert.Equal(t, int64(5), c.Stats().Queries.TypeQueries)
}

func testCoordinatorApply(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	added := rec(" Brazil ", "2021-04-01", "DEATH", 77)
	require.NoError(t, c.ApplyNewRecord(added))
	normalized := added.Normalize()

	assert.Equal(t, 8, c.Len())
	assert.Equal(t, []records.Record{normalized}, c.LookupByCountry("brazil"))
	assert.Equal(t, []records.Record{normalized}, c.LookupByDate("2021-04-01"))
	assert.Len(t, c.LookupByType("death"), 3)
	assert.Equal(t, []indexing.Suggestion{{Word: "brazil", Frequency: 1}}, c.AutocompleteCountry("br", 5))
	assert.Equal(t, []records.Record{normalized}, c.RangeByDate("2021-03-16", "2021-12-31"))
	assert.True(t, c.MightExist(normalized))

	top := c.TopCritical(3)
	assert.Equal(t, normalized, top[2], "deaths leave in insertion order")
	assert.Empty(t, c.Validate())
}

func testCoordinatorApplyInvalidates(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	_, hit := c.CountryRecords("Colombia")
	require.False(t, hit)
	_, hit = c.CountryRecords("Peru")
	require.False(t, hit)
	_, hit = c.DateRecords("2021-02-10")
	require.False(t, hit)
	_, hit = c.RangeRecords("2021-01-01", "2021-12-31")
	require.False(t, hit)
	_, ok := c.CountrySummary("Peru")
	require.True(t, ok)

	require.NoError(t, c.ApplyNewRecord(rec("Colombia", "2021-02-10", records.Recovered, 50)))

	colombia, hit := c.CountryRecords("colombia")
	assert.False(t, hit, "country entry of the new record is dropped")
	assert.Len(t, colombia, 5)

	_, hit = c.CountryRecords("Peru")
	assert.True(t, hit, "unrelated country survives")

	byDate, hit := c.DateRecords("2021-02-10")
	assert.False(t, hit)
	assert.Len(t, byDate, 4)

	all, hit := c.RangeRecords("2021-01-01", "2021-12-31")
	assert.False(t, hit, "range entries are always dropped")
	assert.Len(t, all, 8)

	_, hit = c.CacheGet(cache.NamespaceStats, "country:peru")
	assert.False(t, hit, "stats entries are always dropped")
}

func testCoordinatorApplyRejectsInvalid(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(nil)

	err := c.ApplyNewRecord(rec("Colombia", "2021/01/01", records.Confirmed, 1))
	assert.ErrorIs(t, err, records.ErrInvalidRecord)
	assert.Zero(t, c.Len())
	assert.Empty(t, c.Validate())
}

func testCoordinatorCachedReads(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	first, hit := c.CountryRecords("Colombia")
	require.False(t, hit)
	second, hit := c.CountryRecords(" COLOMBIA")
	require.True(t, hit)
	assert.Equal(t, first, second)

	second[0].Cases = -1
	third, _ := c.CountryRecords("colombia")
	assert.Equal(t, first, third, "callers cannot mutate cached results")

	empty, hit := c.DateRecords("1999-01-01")
	assert.False(t, hit)
	assert.Empty(t, empty)
	_, hit = c.DateRecords("1999-01-01")
	assert.True(t, hit, "empty results are cached too")

	c.CachePut(cache.NamespaceStats, "custom", 42, 0)
	v, ok := c.CacheGet(cache.NamespaceStats, "custom")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.CachePut(cache.NamespaceStats, "pinned", "x", -1)
	entries := c.Stats().Cache
	assert.Equal(t, 4, entries.Size)

	q := c.Stats().Queries
	assert.Equal(t, int64(3), q.CacheHits)
	assert.Equal(t, int64(3), q.CountryQueries)
	assert.Equal(t, int64(2), q.DateQueries)
}

func testCoordinatorCountrySummary(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	sum, ok := c.CountrySummary("colombia")
	require.True(t, ok)
	assert.Equal(t, "Colombia", sum.Country)
	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, int64(605), sum.TotalCases)
	assert.Equal(t, "2021-03-15", sum.LastUpdate)
	assert.Equal(t, map[records.CaseType]int64{records.Confirmed: 600, records.Death: 5}, sum.ByType)

	_, cached := c.CacheGet(cache.NamespaceStats, "country:colombia")
	assert.True(t, cached)

	_, ok = c.CountrySummary("Atlantis")
	assert.False(t, ok)
	_, ok = c.CountrySummary("  ")
	assert.False(t, ok)
}

func testCoordinatorFindRecord(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	r, ok := c.FindRecord("COLOMBIA", "2021-02-10", "Death")
	require.True(t, ok)
	assert.Equal(t, int64(5), r.Cases)

	_, ok = c.FindRecord("Colombia", "2021-02-10", "recovered")
	assert.False(t, ok)
	_, ok = c.FindRecord("", "2021-02-10", "death")
	assert.False(t, ok)
}

func testCoordinatorStatsAndClear(t *testing.T) {
	c := newTestCoordinator(t)
	assert.Empty(t, c.Stats().Generation)

	c.RebuildAll(sampleRecords())
	c.LookupByCountry("Colombia")
	c.MightExist(rec("Nowhere", "2021-01-01", records.Death, 1))

	st := c.Stats()
	assert.True(t, st.Built)
	assert.NotEmpty(t, st.Generation)
	assert.Equal(t, 7, st.Records)
	assert.Equal(t, 4, st.CountryIndex.Keys)
	assert.Equal(t, 4, st.DateIndex.Keys)
	assert.Equal(t, 3, st.TypeIndex.Keys)
	assert.Equal(t, 4, st.Prefix.Words)
	assert.Equal(t, 7, st.Range.Size)
	assert.Equal(t, 2, st.Range.Degree)
	assert.Equal(t, 7, st.Filter.ItemsAdded)
	assert.Equal(t, 2, st.Priority.Deaths)
	assert.Equal(t, int64(1), st.Queries.CountryQueries)
	assert.Equal(t, int64(1), st.Queries.MembershipChecks)
	assert.Equal(t, int64(2), st.Queries.TotalOperations)
	assert.False(t, st.RebuiltAt.IsZero())
	assert.GreaterOrEqual(t, st.LastRebuild, time.Duration(0))

	c.Clear()
	assert.False(t, c.Built())
	assert.Zero(t, c.Len())
	assert.Empty(t, c.LookupByCountry("Colombia"))
	assert.Zero(t, c.Stats().Queries.TotalOperations)
}

func testCoordinatorManyApplies(t *testing.T) {
	c := newTestCoordinator(t)
	c.RebuildAll(sampleRecords())

	base := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 300; i++ {
		r := rec(fmt.Sprintf("Country %d", i%17), base.AddDate(0, 0, i%90).Format(records.DateLayout), records.CaseTypes[i%3], int64(i))
		require.NoError(t, c.ApplyNewRecord(r))
	}

	assert.Equal(t, 307, c.Len())
	assert.Empty(t, c.Validate())
	assert.Len(t, c.RangeByDate("2021-05-01", "2021-12-31"), 300)
	assert.Len(t, c.LookupByCountry("country 3"), 18)
}
