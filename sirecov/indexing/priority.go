package indexing

import (
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

// PriorityLevel names a severity priority.
func PriorityLevel(priority int) string {
	switch priority {
	case 3:
		return "Critical"
	case 2:
		return "High"
	case 1:
		return "Normal"
	default:
		return "Unknown"
	}
}

// PriorityItem is a heap entry as exposed by Items.
type PriorityItem struct {
	Record   records.Record `json:"record"`
	Priority int            `json:"priority"`
	Level    string         `json:"level"`
	seq      uint64
}

// PriorityStoreStats summarizes the records currently held.
type PriorityStoreStats struct {
	Total     int
	Deaths    int
	Confirmed int
	Recovered int
	Countries int
	Earliest  string
	Latest    string
	MeanCases float64
}

// PriorityStore is a binary max-heap of records ordered by case-type
// severity. Equal severities leave in insertion order.
type PriorityStore struct {
	heap []PriorityItem
	seq  uint64
}

// NewPriorityStore creates an empty store.
func NewPriorityStore() *PriorityStore {
	return &PriorityStore{}
}

// before reports whether a must leave the heap ahead of b.
func before(a, b PriorityItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (s *PriorityStore) up(j int) {
	for j > 0 {
		i := (j - 1) / 2
		if !before(s.heap[j], s.heap[i]) {
			break
		}
		s.heap[i], s.heap[j] = s.heap[j], s.heap[i]
		j = i
	}
}

func (s *PriorityStore) down(i int) {
	n := len(s.heap)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		best := left
		if right := left + 1; right < n && before(s.heap[right], s.heap[left]) {
			best = right
		}
		if !before(s.heap[best], s.heap[i]) {
			return
		}
		s.heap[i], s.heap[best] = s.heap[best], s.heap[i]
		i = best
	}
}

// Enqueue adds r with the priority of its type. Records without a type are
// rejected.
func (s *PriorityStore) Enqueue(r records.Record) bool {
	if strings.TrimSpace(string(r.Type)) == "" {
		return false
	}
	p := r.Type.Severity()
	s.heap = append(s.heap, PriorityItem{Record: r, Priority: p, Level: PriorityLevel(p), seq: s.seq})
	s.seq++
	s.up(len(s.heap) - 1)
	return true
}

// Dequeue removes and returns the most severe record.
func (s *PriorityStore) Dequeue() (records.Record, bool) {
	if len(s.heap) == 0 {
		return records.Record{}, false
	}
	top := s.heap[0]
	last := len(s.heap) - 1
	s.heap[0] = s.heap[last]
	s.heap = s.heap[:last]
	if last > 0 {
		s.down(0)
	}
	return top.Record, true
}

// Peek returns the most severe record without removing it.
func (s *PriorityStore) Peek() (records.Record, bool) {
	if len(s.heap) == 0 {
		return records.Record{}, false
	}
	return s.heap[0].Record, true
}

// PeekPriority returns the priority of the most severe record.
func (s *PriorityStore) PeekPriority() (int, bool) {
	if len(s.heap) == 0 {
		return 0, false
	}
	return s.heap[0].Priority, true
}

// TopK returns up to k records in dequeue order. It drains a copy of the
// heap, so the store itself is left exactly as it was.
func (s *PriorityStore) TopK(k int) []records.Record {
	if k <= 0 || len(s.heap) == 0 {
		return []records.Record{}
	}
	scratch := &PriorityStore{heap: make([]PriorityItem, len(s.heap))}
	copy(scratch.heap, s.heap)

	out := make([]records.Record, 0, min(k, len(s.heap)))
	for len(out) < k {
		r, ok := scratch.Dequeue()
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out
}

// Items returns every entry in dequeue order.
func (s *PriorityStore) Items() []PriorityItem {
	items := make([]PriorityItem, len(s.heap))
	copy(items, s.heap)
	sort.Slice(items, func(i, j int) bool { return before(items[i], items[j]) })
	return items
}

// ByPriority returns the records holding exactly priority p, in heap order.
func (s *PriorityStore) ByPriority(p int) []records.Record {
	out := []records.Record{}
	for _, it := range s.heap {
		if it.Priority == p {
			out = append(out, it.Record)
		}
	}
	return out
}

// ByCountry returns the records of a country (case-insensitive) in dequeue order.
func (s *PriorityStore) ByCountry(country string) []records.Record {
	out := []records.Record{}
	key := records.CountryKey(country)
	if key == "" {
		return out
	}
	for _, it := range s.Items() {
		if records.CountryKey(it.Record.Country) == key {
			out = append(out, it.Record)
		}
	}
	return out
}

// Len returns the number of queued records.
func (s *PriorityStore) Len() int { return len(s.heap) }

// IsEmpty reports whether nothing is queued.
func (s *PriorityStore) IsEmpty() bool { return len(s.heap) == 0 }

// Clear drops every record.
func (s *PriorityStore) Clear() {
	s.heap = nil
	s.seq = 0
}

// Stats summarizes the held records.
func (s *PriorityStore) Stats() PriorityStoreStats {
	st := PriorityStoreStats{Total: len(s.heap)}
	countries := make(map[string]struct{})
	cases := make([]float64, 0, len(s.heap))

	for _, it := range s.heap {
		r := it.Record
		switch records.CaseType(strings.ToLower(string(r.Type))) {
		case records.Death:
			st.Deaths++
		case records.Confirmed:
			st.Confirmed++
		case records.Recovered:
			st.Recovered++
		}
		if key := records.CountryKey(r.Country); key != "" {
			countries[key] = struct{}{}
		}
		if r.Date != "" {
			if st.Earliest == "" || r.Date < st.Earliest {
				st.Earliest = r.Date
			}
			if st.Latest == "" || r.Date > st.Latest {
				st.Latest = r.Date
			}
		}
		cases = append(cases, float64(r.Cases))
	}

	st.Countries = len(countries)
	if len(cases) > 0 {
		st.MeanCases = stat.Mean(cases, nil)
	}
	return st
}
