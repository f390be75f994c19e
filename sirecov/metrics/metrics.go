// Package metrics exports engine diagnostics in the Prometheus format and
// serves them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ZanzyTHEbar/sirecov/sirecov/engine"
)

const namespace = "sirecov"

// StatsSource is anything that can produce an engine diagnostics snapshot.
type StatsSource interface {
	Stats() engine.Stats
}

// SyncSource reports store-tailing activity.
type SyncSource interface {
	Syncs() int64
	Applied() int64
	Failed() int64
}

// Collector reads a fresh snapshot on every scrape, so the structures never
// push updates themselves.
type Collector struct {
	source StatsSource
	syncs  SyncSource

	built          *prometheus.Desc
	records        *prometheus.Desc
	rebuildSeconds *prometheus.Desc

	indexKeys      *prometheus.Desc
	hashLoadFactor *prometheus.Desc
	hashChain      *prometheus.Desc
	hashRehashes   *prometheus.Desc
	rangeHeight    *prometheus.Desc
	rangeNodes     *prometheus.Desc

	filterItems    *prometheus.Desc
	filterBitsSet  *prometheus.Desc
	filterFill     *prometheus.Desc
	filterFPR      *prometheus.Desc
	filterNearFull *prometheus.Desc
	filterChecks   *prometheus.Desc

	priorityItems *prometheus.Desc

	cacheEntries     *prometheus.Desc
	cacheCapacity    *prometheus.Desc
	cacheHits        *prometheus.Desc
	cacheMisses      *prometheus.Desc
	cacheEvictions   *prometheus.Desc
	cacheExpirations *prometheus.Desc

	queries        *prometheus.Desc
	queryCacheHits *prometheus.Desc
	queryAvg       *prometheus.Desc

	syncsTotal   *prometheus.Desc
	syncsApplied *prometheus.Desc
	syncsFailed  *prometheus.Desc
}

// Option configures a Collector.
type Option func(*Collector)

// WithSyncSource adds the store watcher's counters.
func WithSyncSource(s SyncSource) Option {
	return func(c *Collector) { c.syncs = s }
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

// NewCollector creates a collector over source.
func NewCollector(source StatsSource, opts ...Option) *Collector {
	c := &Collector{
		source: source,

		built:          desc("built", "Whether the indexes have been built (1) or not (0)."),
		records:        desc("records", "Records applied to the indexes."),
		rebuildSeconds: desc("last_rebuild_seconds", "Duration of the last full rebuild."),

		indexKeys:      desc("index_keys", "Distinct keys per index.", "index"),
		hashLoadFactor: desc("hash_load_factor", "Keys per bucket of a hash index.", "index"),
		hashChain:      desc("hash_longest_chain", "Longest bucket chain of a hash index.", "index"),
		hashRehashes:   desc("hash_rehashes_total", "Table doublings of a hash index.", "index"),
		rangeHeight:    desc("range_height", "Height of the date range tree."),
		rangeNodes:     desc("range_nodes", "Nodes of the date range tree by kind.", "kind"),

		filterItems:    desc("filter_items", "Items added to the membership filter."),
		filterBitsSet:  desc("filter_bits_set", "Bits set in the membership filter."),
		filterFill:     desc("filter_fill_ratio", "Fraction of membership filter bits set."),
		filterFPR:      desc("filter_estimated_fpr", "Estimated false positive rate at the current fill."),
		filterNearFull: desc("filter_near_capacity", "Whether the filter holds at least 80% of its expected items."),
		filterChecks:   desc("filter_checks_total", "Verified membership checks by outcome.", "result"),

		priorityItems: desc("priority_items", "Records in the priority store by case type.", "type"),

		cacheEntries:     desc("cache_entries", "Resident query cache entries."),
		cacheCapacity:    desc("cache_capacity", "Query cache capacity."),
		cacheHits:        desc("cache_hits_total", "Query cache hits."),
		cacheMisses:      desc("cache_misses_total", "Query cache misses."),
		cacheEvictions:   desc("cache_evictions_total", "Entries evicted to make room."),
		cacheExpirations: desc("cache_expirations_total", "Entries dropped after their TTL."),

		queries:        desc("queries_total", "Queries served by kind.", "kind"),
		queryCacheHits: desc("query_cache_hits_total", "Queries answered from the cache."),
		queryAvg:       desc("query_average_seconds", "Running average query latency."),

		syncsTotal:   desc("store_syncs_total", "Syncs triggered by store writes."),
		syncsApplied: desc("store_synced_records_total", "Records applied by store syncs."),
		syncsFailed:  desc("store_sync_failures_total", "Store syncs that failed."),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.built, c.records, c.rebuildSeconds,
		c.indexKeys, c.hashLoadFactor, c.hashChain, c.hashRehashes, c.rangeHeight, c.rangeNodes,
		c.filterItems, c.filterBitsSet, c.filterFill, c.filterFPR, c.filterNearFull, c.filterChecks,
		c.priorityItems,
		c.cacheEntries, c.cacheCapacity, c.cacheHits, c.cacheMisses, c.cacheEvictions, c.cacheExpirations,
		c.queries, c.queryCacheHits, c.queryAvg,
	} {
		ch <- d
	}
	if c.syncs != nil {
		ch <- c.syncsTotal
		ch <- c.syncsApplied
		ch <- c.syncsFailed
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.built, boolValue(s.Built))
	gauge(c.records, float64(s.Records))
	gauge(c.rebuildSeconds, s.LastRebuild.Seconds())

	for name, h := range map[string]struct {
		keys, chain, rehashes int
		load                  float64
	}{
		"country": {s.CountryIndex.Keys, s.CountryIndex.LongestChain, s.CountryIndex.Rehashes, s.CountryIndex.LoadFactor},
		"date":    {s.DateIndex.Keys, s.DateIndex.LongestChain, s.DateIndex.Rehashes, s.DateIndex.LoadFactor},
		"type":    {s.TypeIndex.Keys, s.TypeIndex.LongestChain, s.TypeIndex.Rehashes, s.TypeIndex.LoadFactor},
	} {
		gauge(c.indexKeys, float64(h.keys), name)
		gauge(c.hashLoadFactor, h.load, name)
		gauge(c.hashChain, float64(h.chain), name)
		counter(c.hashRehashes, float64(h.rehashes), name)
	}
	gauge(c.indexKeys, float64(s.Prefix.Words), "prefix")
	gauge(c.indexKeys, float64(s.Range.Keys), "range")
	gauge(c.rangeHeight, float64(s.Range.Height))
	gauge(c.rangeNodes, float64(s.Range.LeafNodes), "leaf")
	gauge(c.rangeNodes, float64(s.Range.TotalNodes), "total")

	gauge(c.filterItems, float64(s.Filter.ItemsAdded))
	gauge(c.filterBitsSet, float64(s.Filter.BitsSet))
	gauge(c.filterFill, s.Filter.Utilization)
	gauge(c.filterFPR, s.Filter.CurrentFPR)
	gauge(c.filterNearFull, boolValue(s.Filter.NearCapacity))
	counter(c.filterChecks, float64(s.Filter.Checks.TruePositives), "true_positive")
	counter(c.filterChecks, float64(s.Filter.Checks.FalsePositives), "false_positive")
	counter(c.filterChecks, float64(s.Filter.Checks.TrueNegatives), "true_negative")

	gauge(c.priorityItems, float64(s.Priority.Deaths), "death")
	gauge(c.priorityItems, float64(s.Priority.Confirmed), "confirmed")
	gauge(c.priorityItems, float64(s.Priority.Recovered), "recovered")

	gauge(c.cacheEntries, float64(s.Cache.Size))
	gauge(c.cacheCapacity, float64(s.Cache.Capacity))
	counter(c.cacheHits, float64(s.Cache.Hits))
	counter(c.cacheMisses, float64(s.Cache.Misses))
	counter(c.cacheEvictions, float64(s.Cache.Evictions))
	counter(c.cacheExpirations, float64(s.Cache.Expirations))

	q := s.Queries
	counter(c.queries, float64(q.CountryQueries), "country")
	counter(c.queries, float64(q.DateQueries), "date")
	counter(c.queries, float64(q.TypeQueries), "type")
	counter(c.queries, float64(q.PrefixQueries), "prefix")
	counter(c.queries, float64(q.RangeQueries), "range")
	counter(c.queries, float64(q.PriorityQueries), "priority")
	counter(c.queries, float64(q.MembershipChecks), "membership")
	counter(c.queryCacheHits, float64(q.CacheHits))
	gauge(c.queryAvg, q.AverageQueryTime.Seconds())

	if c.syncs != nil {
		counter(c.syncsTotal, float64(c.syncs.Syncs()))
		counter(c.syncsApplied, float64(c.syncs.Applied()))
		counter(c.syncsFailed, float64(c.syncs.Failed()))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry holding c plus the Go runtime and process
// collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the Prometheus scrape HTTP handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
