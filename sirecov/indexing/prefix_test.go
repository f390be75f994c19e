package indexing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixIndex(t *testing.T) {
	tests := []struct {
		name string
		test func(t *testing.T)
	}{
		{"InsertAndSearch", testPrefixInsertAndSearch},
		{"AutocompleteOrdering", testPrefixAutocompleteOrdering},
		{"EmptyAndUnknownPrefix", testPrefixEmptyAndUnknown},
		{"Limit", testPrefixLimit},
		{"Statistics", testPrefixStatistics},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.test)
	}
}

func testPrefixInsertAndSearch(t *testing.T) {
	idx := NewPrefixIndex()

	idx.Insert("Colombia")
	idx.Insert("  colombia ")
	idx.Insert("Chile")
	idx.Insert("   ")

	assert.Equal(t, 2, idx.Len(), "blank words are ignored, case and spacing fold together")
	assert.True(t, idx.Search("COLOMBIA"))
	assert.True(t, idx.Search("chile"))
	assert.False(t, idx.Search("col"), "prefixes are not words")
	assert.False(t, idx.Search(""))
	assert.Equal(t, 2, idx.Frequency("colombia"))
	assert.Equal(t, 0, idx.Frequency("peru"))
}

func testPrefixAutocompleteOrdering(t *testing.T) {
	idx := NewPrefixIndex()
	for _, w := range []string{"Colombia", "Costa Rica", "Colombia", "Cuba", "Chile", "Colombia", "Costa Rica", "Canada"} {
		idx.Insert(w)
	}

	got := idx.Autocomplete("C", 10)
	assert.Equal(t, []Suggestion{
		{"colombia", 3},
		{"costa rica", 2},
		{"canada", 1},
		{"chile", 1},
		{"cuba", 1},
	}, got)

	assert.Equal(t, []Suggestion{{"colombia", 3}, {"costa rica", 2}}, idx.Autocomplete("co", 10))
	assert.Equal(t, []Suggestion{{"colombia", 3}}, idx.Autocomplete("colombia", 10))
}

func testPrefixEmptyAndUnknown(t *testing.T) {
	idx := NewPrefixIndex()
	assert.Empty(t, idx.Autocomplete("", 5))

	idx.Insert("Peru")
	idx.Insert("Peru")
	idx.Insert("Argentina")

	assert.Equal(t, []Suggestion{{"peru", 2}, {"argentina", 1}}, idx.Autocomplete("  ", 5))

	unknown := idx.Autocomplete("zz", 5)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func testPrefixLimit(t *testing.T) {
	idx := NewPrefixIndex()
	for _, w := range []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8", "a9", "a10", "a11", "a12"} {
		idx.Insert(w)
	}

	assert.Len(t, idx.Autocomplete("a", 3), 3)
	assert.Len(t, idx.Autocomplete("a", 0), DefaultAutocompleteLimit)
	assert.Equal(t, "a1", idx.Autocomplete("a", 1)[0].Word)
}

func testPrefixStatistics(t *testing.T) {
	idx := NewPrefixIndex()
	assert.Equal(t, PrefixIndexStats{Nodes: 1}, idx.Stats())

	idx.Insert("col")
	idx.Insert("Colombia")
	idx.Insert("Chile")
	idx.Insert("Chile")

	stats := idx.Stats()
	assert.Equal(t, 3, stats.Words)
	assert.Equal(t, 4, stats.Insertions)
	assert.Equal(t, 13, stats.Nodes)
	assert.InDelta(t, 16.0/3.0, stats.AverageDepth, 1e-9)

	idx.Clear()
	assert.Equal(t, 0, idx.Len())
	assert.False(t, idx.Search("chile"))
}
