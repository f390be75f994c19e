package indexing

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/armon/go-radix"
	"gonum.org/v1/gonum/stat"
)

// DefaultAutocompleteLimit caps autocomplete results when no positive limit is given.
const DefaultAutocompleteLimit = 10

// Suggestion is one autocomplete result.
type Suggestion struct {
	Word      string `json:"word"`
	Frequency int    `json:"frequency"`
}

// PrefixIndexStats describes the equivalent character trie: Nodes counts one
// node per distinct prefix plus the root, AverageDepth is the mean terminal
// depth in characters.
type PrefixIndexStats struct {
	Words        int
	Insertions   int
	Nodes        int
	AverageDepth float64
}

// PrefixIndex ranks words sharing a prefix by how often each was inserted.
// Words live in a patricia tree keyed by their normalized form; the stored
// value is the insertion count of that word.
type PrefixIndex struct {
	tree       *radix.Tree
	insertions int
}

// NewPrefixIndex creates an empty prefix index.
func NewPrefixIndex() *PrefixIndex {
	return &PrefixIndex{tree: radix.New()}
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimSpace(word))
}

// Insert normalizes word and bumps its frequency. Blank words are ignored.
func (p *PrefixIndex) Insert(word string) {
	w := normalizeWord(word)
	if w == "" {
		return
	}

	freq := 0
	if v, ok := p.tree.Get(w); ok {
		freq = v.(int)
	}
	p.tree.Insert(w, freq+1)
	p.insertions++
}

// Search reports whether word was inserted at least once.
func (p *PrefixIndex) Search(word string) bool {
	w := normalizeWord(word)
	if w == "" {
		return false
	}
	_, ok := p.tree.Get(w)
	return ok
}

// Frequency returns how many times word was inserted.
func (p *PrefixIndex) Frequency(word string) int {
	if v, ok := p.tree.Get(normalizeWord(word)); ok {
		return v.(int)
	}
	return 0
}

// Autocomplete returns up to limit words starting with prefix, by descending
// frequency then ascending word. A blank prefix ranks every word.
func (p *PrefixIndex) Autocomplete(prefix string, limit int) []Suggestion {
	if limit <= 0 {
		limit = DefaultAutocompleteLimit
	}

	results := []Suggestion{}
	p.tree.WalkPrefix(normalizeWord(prefix), func(key string, value interface{}) bool {
		results = append(results, Suggestion{Word: key, Frequency: value.(int)})
		return false
	})

	sort.Slice(results, func(i, j int) bool {
		if results[i].Frequency != results[j].Frequency {
			return results[i].Frequency > results[j].Frequency
		}
		return results[i].Word < results[j].Word
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Len returns the number of distinct words.
func (p *PrefixIndex) Len() int { return p.tree.Len() }

// Clear removes every word.
func (p *PrefixIndex) Clear() {
	p.tree = radix.New()
	p.insertions = 0
}

// Stats walks the tree once; it is meant for diagnostics, not hot paths.
func (p *PrefixIndex) Stats() PrefixIndexStats {
	prefixes := make(map[string]struct{})
	depths := make([]float64, 0, p.tree.Len())

	p.tree.Walk(func(key string, _ interface{}) bool {
		for i := range key {
			_, size := utf8.DecodeRuneInString(key[i:])
			prefixes[key[:i+size]] = struct{}{}
		}
		depths = append(depths, float64(utf8.RuneCountInString(key)))
		return false
	})

	avg := 0.0
	if len(depths) > 0 {
		avg = stat.Mean(depths, nil)
	}

	return PrefixIndexStats{
		Words:        p.tree.Len(),
		Insertions:   p.insertions,
		Nodes:        len(prefixes) + 1,
		AverageDepth: avg,
	}
}
