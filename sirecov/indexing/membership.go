package indexing

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring"
	"github.com/cespare/xxhash/v2"

	"github.com/ZanzyTHEbar/sirecov/sirecov/records"
)

const (
	nearCapacityRatio = 0.8
	filterMagic       = uint32(0x53524246) // "SRBF"
)

// ErrFilterSnapshot is returned when a binary snapshot cannot be decoded.
var ErrFilterSnapshot = errors.New("malformed membership filter snapshot")

// FilterChecks tallies lookups made through the filter.
type FilterChecks struct {
	Total          int64
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
}

// MembershipFilterStats is a diagnostics snapshot of a MembershipFilter.
type MembershipFilterStats struct {
	Bits         uint64
	Hashes       int
	ItemsAdded   int
	Expected     int
	TargetFPR    float64
	CurrentFPR   float64
	Utilization  float64
	BitsSet      uint64
	NearCapacity bool
	Checks       FilterChecks
}

// MembershipFilter is a Bloom filter over a roaring bitmap. A negative answer
// is exact; a positive answer may be wrong with roughly the configured rate
// once ItemsAdded reaches Expected.
type MembershipFilter struct {
	bits       *roaring.Bitmap
	m          uint64
	k          int
	expected   int
	targetRate float64
	items      int
	checks     FilterChecks
}

// OptimalSize returns m = ceil(-n ln p / (ln 2)^2) and k = ceil((m/n) ln 2).
func OptimalSize(n int, p float64) (m uint64, k int) {
	m = uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k = int(math.Ceil(float64(m) / float64(n) * math.Ln2))
	return max(m, 1), max(k, 1)
}

// NewMembershipFilter sizes a filter for n items at false-positive rate p.
// Non-positive n or p outside (0,1) fall back to 10000 items at 1%.
func NewMembershipFilter(n int, p float64) *MembershipFilter {
	if n <= 0 {
		n = 10000
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m, k := OptimalSize(n, p)
	return &MembershipFilter{
		bits:       roaring.New(),
		m:          m,
		k:          k,
		expected:   n,
		targetRate: p,
	}
}

// positions derives k bit indexes by double hashing the two halves of one
// 64-bit xxhash. The step is forced odd so it never collapses to zero.
func (f *MembershipFilter) positions(item string) []uint32 {
	sum := xxhash.Sum64String(item)
	h1 := sum & 0xffffffff
	h2 := (sum >> 32) | 1

	out := make([]uint32, f.k)
	for i := 0; i < f.k; i++ {
		out[i] = uint32((h1 + uint64(i)*h2) % f.m)
	}
	return out
}

// Add sets the item's k bits. Empty items are ignored.
func (f *MembershipFilter) Add(item string) {
	if item == "" {
		return
	}
	f.bits.AddMany(f.positions(item))
	f.items++
}

// MightContain is false only when the item was certainly never added.
func (f *MembershipFilter) MightContain(item string) bool {
	if item == "" {
		return false
	}
	f.checks.Total++
	for _, pos := range f.positions(item) {
		if !f.bits.Contains(pos) {
			f.checks.TrueNegatives++
			return false
		}
	}
	return true
}

// CheckWithStats is MightContain plus bookkeeping of whether a positive
// answer was right, given the caller's ground truth.
func (f *MembershipFilter) CheckWithStats(item string, actuallyPresent bool) bool {
	result := f.MightContain(item)
	if result {
		if actuallyPresent {
			f.checks.TruePositives++
		} else {
			f.checks.FalsePositives++
		}
	}
	return result
}

// CurrentFalsePositiveRate estimates (bits set / m)^k.
func (f *MembershipFilter) CurrentFalsePositiveRate() float64 {
	return math.Pow(f.Utilization(), float64(f.k))
}

// Utilization is the fraction of bits set.
func (f *MembershipFilter) Utilization() float64 {
	return float64(f.bits.GetCardinality()) / float64(f.m)
}

// NearCapacity reports whether at least 80% of the expected items were added.
func (f *MembershipFilter) NearCapacity() bool {
	return float64(f.items) >= float64(f.expected)*nearCapacityRatio
}

// Union ORs other into f. Filters of different dimensions are left untouched
// and false is returned.
func (f *MembershipFilter) Union(other *MembershipFilter) bool {
	if other == nil || f.m != other.m || f.k != other.k {
		return false
	}
	f.bits.Or(other.bits)
	f.items = max(f.items, other.items)
	return true
}

// Clone returns an independent copy including counters.
func (f *MembershipFilter) Clone() *MembershipFilter {
	c := *f
	c.bits = f.bits.Clone()
	return &c
}

// Clear unsets every bit and resets counters.
func (f *MembershipFilter) Clear() {
	f.bits.Clear()
	f.items = 0
	f.checks = FilterChecks{}
}

// Len returns the number of items added.
func (f *MembershipFilter) Len() int { return f.items }

// Stats returns a diagnostics snapshot.
func (f *MembershipFilter) Stats() MembershipFilterStats {
	return MembershipFilterStats{
		Bits:         f.m,
		Hashes:       f.k,
		ItemsAdded:   f.items,
		Expected:     f.expected,
		TargetFPR:    f.targetRate,
		CurrentFPR:   f.CurrentFalsePositiveRate(),
		Utilization:  f.Utilization(),
		BitsSet:      f.bits.GetCardinality(),
		NearCapacity: f.NearCapacity(),
		Checks:       f.checks,
	}
}

type filterHeader struct {
	Magic      uint32
	M          uint64
	K          uint32
	Expected   uint64
	TargetRate float64
	Items      uint64
}

// MarshalBinary encodes dimensions and bits; check counters are not kept.
func (f *MembershipFilter) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	hdr := filterHeader{
		Magic:      filterMagic,
		M:          f.m,
		K:          uint32(f.k),
		Expected:   uint64(f.expected),
		TargetRate: f.targetRate,
		Items:      uint64(f.items),
	}
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("failed to write filter header: %w", err)
	}
	if _, err := f.bits.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write filter bits: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a filter written by MarshalBinary.
func (f *MembershipFilter) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	var hdr filterHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("%w: %v", ErrFilterSnapshot, err)
	}
	if hdr.Magic != filterMagic || hdr.M == 0 || hdr.K == 0 {
		return fmt.Errorf("%w: bad header", ErrFilterSnapshot)
	}

	bits := roaring.New()
	if _, err := bits.ReadFrom(r); err != nil {
		return fmt.Errorf("%w: %v", ErrFilterSnapshot, err)
	}

	*f = MembershipFilter{
		bits:       bits,
		m:          hdr.M,
		k:          int(hdr.K),
		expected:   int(hdr.Expected),
		targetRate: hdr.TargetRate,
		items:      int(hdr.Items),
	}
	return nil
}

// RecordFilter keys a MembershipFilter by a record's natural key.
type RecordFilter struct {
	*MembershipFilter
}

// NewRecordFilter sizes a record filter for n records at rate p.
func NewRecordFilter(n int, p float64) *RecordFilter {
	return &RecordFilter{MembershipFilter: NewMembershipFilter(n, p)}
}

// AddRecord adds r's natural key. Records missing a key part are ignored.
func (f *RecordFilter) AddRecord(r records.Record) {
	f.Add(r.NaturalKey())
}

// AddBatch adds every record in rs.
func (f *RecordFilter) AddBatch(rs []records.Record) {
	for _, r := range rs {
		f.AddRecord(r)
	}
}

// MightContainRecord checks r's natural key.
func (f *RecordFilter) MightContainRecord(r records.Record) bool {
	return f.MightContain(r.NaturalKey())
}
