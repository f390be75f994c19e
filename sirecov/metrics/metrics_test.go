package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/sirecov/sirecov/engine"
	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

type fixedStats engine.Stats

func (f fixedStats) Stats() engine.Stats { return engine.Stats(f) }

type fixedSyncs struct{ syncs, applied, failed int64 }

func (f fixedSyncs) Syncs() int64   { return f.syncs }
func (f fixedSyncs) Applied() int64 { return f.applied }
func (f fixedSyncs) Failed() int64  { return f.failed }

func builtCoordinator(t *testing.T) *engine.Coordinator {
	t.Helper()
	c := engine.NewCoordinator(engine.DefaultOptions(), nil, zerolog.Nop())
	c.RebuildAll([]records.Record{
		{Country: "Colombia", Date: "2021-01-01", Type: records.Confirmed, Cases: 100},
		{Country: "Colombia", Date: "2021-01-02", Type: records.Death, Cases: 3},
		{Country: "Chile", Date: "2021-01-02", Type: records.Death, Cases: 1},
	})
	return c
}

func TestCollector(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{
			name: "exports the coordinator snapshot",
			test: func(t *testing.T) {
				coord := builtCoordinator(t)
				coord.LookupByCountry("colombia")
				coord.TopCritical(1)

				expected := `
# HELP sirecov_records Records applied to the indexes.
# TYPE sirecov_records gauge
sirecov_records 3
# HELP sirecov_built Whether the indexes have been built (1) or not (0).
# TYPE sirecov_built gauge
sirecov_built 1
# HELP sirecov_priority_items Records in the priority store by case type.
# TYPE sirecov_priority_items gauge
sirecov_priority_items{type="confirmed"} 1
sirecov_priority_items{type="death"} 2
sirecov_priority_items{type="recovered"} 0
# HELP sirecov_index_keys Distinct keys per index.
# TYPE sirecov_index_keys gauge
sirecov_index_keys{index="country"} 2
sirecov_index_keys{index="date"} 2
sirecov_index_keys{index="prefix"} 2
sirecov_index_keys{index="range"} 2
sirecov_index_keys{index="type"} 2
`
				reg := NewRegistry(NewCollector(coord))
				err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
					"sirecov_records", "sirecov_built", "sirecov_priority_items", "sirecov_index_keys")
				assert.NoError(t, err)

				assert.Equal(t, 1, testutil.CollectAndCount(NewCollector(coord), "sirecov_query_cache_hits_total"))
			},
		},
		{
			name: "query counters are labelled by kind",
			test: func(t *testing.T) {
				var s engine.Stats
				s.Queries.CountryQueries = 4
				s.Queries.MembershipChecks = 2

				expected := `
# HELP sirecov_queries_total Queries served by kind.
# TYPE sirecov_queries_total counter
sirecov_queries_total{kind="country"} 4
sirecov_queries_total{kind="date"} 0
sirecov_queries_total{kind="membership"} 2
sirecov_queries_total{kind="prefix"} 0
sirecov_queries_total{kind="priority"} 0
sirecov_queries_total{kind="range"} 0
sirecov_queries_total{kind="type"} 0
`
				err := testutil.CollectAndCompare(NewCollector(fixedStats(s)), strings.NewReader(expected), "sirecov_queries_total")
				assert.NoError(t, err)
			},
		},
		{
			name: "sync counters only with a sync source",
			test: func(t *testing.T) {
				plain := NewCollector(fixedStats{})
				assert.Zero(t, testutil.CollectAndCount(plain, "sirecov_store_syncs_total"))

				withSyncs := NewCollector(fixedStats{}, WithSyncSource(fixedSyncs{syncs: 3, applied: 7, failed: 1}))
				expected := `
# HELP sirecov_store_synced_records_total Records applied by store syncs.
# TYPE sirecov_store_synced_records_total counter
sirecov_store_synced_records_total 7
# HELP sirecov_store_sync_failures_total Store syncs that failed.
# TYPE sirecov_store_sync_failures_total counter
sirecov_store_sync_failures_total 1
# HELP sirecov_store_syncs_total Syncs triggered by store writes.
# TYPE sirecov_store_syncs_total counter
sirecov_store_syncs_total 3
`
				err := testutil.CollectAndCompare(withSyncs, strings.NewReader(expected),
					"sirecov_store_syncs_total", "sirecov_store_synced_records_total", "sirecov_store_sync_failures_total")
				assert.NoError(t, err)
			},
		},
		{
			name: "unbuilt engine reports zero",
			test: func(t *testing.T) {
				c := NewCollector(engine.NewCoordinator(engine.Options{}, nil, zerolog.Nop()))
				expected := `
# HELP sirecov_built Whether the indexes have been built (1) or not (0).
# TYPE sirecov_built gauge
sirecov_built 0
`
				assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected), "sirecov_built"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func TestServer(t *testing.T) {
	coord := builtCoordinator(t)
	srv := NewServer("127.0.0.1:0", NewRegistry(NewCollector(coord)), zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/metrics"
	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		body = string(b)
		return true
	}, 5*time.Second, 20*time.Millisecond)

	assert.Contains(t, body, "sirecov_records 3")
	assert.Contains(t, body, "go_goroutines")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
