package indexing

import (
	"fmt"
	"slices"
	"sort"
)

// DefaultRangeDegree is the minimum degree used when none is configured.
const DefaultRangeDegree = 3

type nodeID int32

const noNode nodeID = -1

// rangeNode is one arena slot. Leaves carry values and a next-leaf link;
// internal nodes carry children. Separator k routes keys >= k to the right.
type rangeNode[V any] struct {
	leaf     bool
	keys     []string
	values   [][]V
	children []nodeID
	next     nodeID
}

// RangeIndexStats is a diagnostics snapshot of a RangeIndex.
type RangeIndexStats struct {
	Size       int
	Keys       int
	Degree     int
	Height     int
	LeafNodes  int
	TotalNodes int
}

// RangeIndex is a B+tree of minimum degree t keyed by YYYY-MM-DD strings.
// Nodes live in an arena addressed by nodeID, so splits and leaf relinking
// are index assignments. Every value is stored in exactly one leaf slot and
// leaves are chained left to right for range scans.
type RangeIndex[V any] struct {
	degree int
	nodes  []rangeNode[V]
	root   nodeID
	size   int
	keys   int
}

// NewRangeIndex creates an empty tree. It panics if degree < 2.
func NewRangeIndex[V any](degree int) *RangeIndex[V] {
	if degree < 2 {
		panic(fmt.Sprintf("range index degree must be at least 2, got %d", degree))
	}
	t := &RangeIndex[V]{degree: degree}
	t.Clear()
	return t
}

// Clear resets the tree to a single empty leaf.
func (t *RangeIndex[V]) Clear() {
	t.nodes = t.nodes[:0]
	t.size = 0
	t.keys = 0
	t.root = t.alloc(true)
}

func (t *RangeIndex[V]) alloc(leaf bool) nodeID {
	t.nodes = append(t.nodes, rangeNode[V]{leaf: leaf, next: noNode})
	return nodeID(len(t.nodes) - 1)
}

// node must not be held across alloc, which may move the arena.
func (t *RangeIndex[V]) node(id nodeID) *rangeNode[V] {
	return &t.nodes[id]
}

func (t *RangeIndex[V]) full(id nodeID) bool {
	return len(t.node(id).keys) >= 2*t.degree-1
}

// childIndex returns the child slot to follow for key.
func childIndex(keys []string, key string) int {
	return sort.Search(len(keys), func(i int) bool { return key < keys[i] })
}

// Insert stores value under key. A key already present gains another value
// instead of a duplicate slot. Empty keys are ignored.
func (t *RangeIndex[V]) Insert(key string, value V) {
	if key == "" {
		return
	}

	if t.full(t.root) {
		oldRoot := t.root
		newRoot := t.alloc(false)
		t.node(newRoot).children = []nodeID{oldRoot}
		t.splitChild(newRoot, 0)
		t.root = newRoot
	}

	t.insertNonFull(t.root, key, value)
	t.size++
}

func (t *RangeIndex[V]) insertNonFull(id nodeID, key string, value V) {
	for {
		n := t.node(id)
		if n.leaf {
			i := sort.SearchStrings(n.keys, key)
			if i < len(n.keys) && n.keys[i] == key {
				n.values[i] = append(n.values[i], value)
				return
			}
			n.keys = slices.Insert(n.keys, i, key)
			n.values = slices.Insert(n.values, i, []V{value})
			t.keys++
			return
		}

		i := childIndex(n.keys, key)
		if t.full(n.children[i]) {
			t.splitChild(id, i)
			if key >= t.node(id).keys[i] {
				i++
			}
		}
		id = t.node(id).children[i]
	}
}

// splitChild divides the full child at slot i around its median. Internal
// children hand the median up; leaves keep it as the first key of the new
// right sibling and promote a copy, so no value leaves the leaf level.
func (t *RangeIndex[V]) splitChild(parentID nodeID, i int) {
	childID := t.node(parentID).children[i]
	siblingID := t.alloc(t.node(childID).leaf)

	parent, child, sibling := t.node(parentID), t.node(childID), t.node(siblingID)
	mid := t.degree - 1
	invariant(len(child.keys) == 2*t.degree-1, "range index",
		"split of non-full node %d with %d keys", childID, len(child.keys))

	var promoted string
	if child.leaf {
		promoted = child.keys[mid]
		sibling.keys = slices.Clone(child.keys[mid:])
		sibling.values = slices.Clone(child.values[mid:])
		child.keys = slices.Clip(child.keys[:mid])
		child.values = slices.Clip(child.values[:mid])

		sibling.next = child.next
		child.next = siblingID
	} else {
		promoted = child.keys[mid]
		sibling.keys = slices.Clone(child.keys[mid+1:])
		sibling.children = slices.Clone(child.children[mid+1:])
		child.keys = slices.Clip(child.keys[:mid])
		child.children = slices.Clip(child.children[:mid+1])
	}

	parent.keys = slices.Insert(parent.keys, i, promoted)
	parent.children = slices.Insert(parent.children, i+1, siblingID)

	invariant(len(child.keys) == t.degree-1, "range index", "left half of split has %d keys", len(child.keys))
	invariant(len(sibling.keys) >= t.degree-1, "range index", "right half of split has %d keys", len(sibling.keys))
}

// findLeaf descends to the leaf whose range covers key.
func (t *RangeIndex[V]) findLeaf(key string) nodeID {
	id := t.root
	for {
		n := t.node(id)
		if n.leaf {
			return id
		}
		id = n.children[childIndex(n.keys, key)]
	}
}

// Search returns a copy of the values stored under key, or an empty slice.
func (t *RangeIndex[V]) Search(key string) []V {
	n := t.node(t.findLeaf(key))
	i := sort.SearchStrings(n.keys, key)
	if i < len(n.keys) && n.keys[i] == key {
		return slices.Clone(n.values[i])
	}
	return []V{}
}

// RangeSearch returns every value with start <= key <= end in ascending key
// order, walking linked leaves from the leaf covering start. It returns an
// empty slice when start > end.
func (t *RangeIndex[V]) RangeSearch(start, end string) []V {
	results := []V{}
	if start > end {
		return results
	}

	for id := t.findLeaf(start); id != noNode; {
		n := t.node(id)
		for i, key := range n.keys {
			if key > end {
				return results
			}
			if key >= start {
				results = append(results, n.values[i]...)
			}
		}
		id = n.next
	}
	return results
}

func (t *RangeIndex[V]) leftmostLeaf() nodeID {
	id := t.root
	for !t.node(id).leaf {
		id = t.node(id).children[0]
	}
	return id
}

// Keys returns every distinct key in ascending order.
func (t *RangeIndex[V]) Keys() []string {
	keys := make([]string, 0, t.keys)
	for id := t.leftmostLeaf(); id != noNode; id = t.node(id).next {
		keys = append(keys, t.node(id).keys...)
	}
	return keys
}

// Len returns the number of stored values.
func (t *RangeIndex[V]) Len() int { return t.size }

// Height returns the number of levels, a lone leaf being height 1.
func (t *RangeIndex[V]) Height() int {
	h := 1
	for id := t.root; !t.node(id).leaf; id = t.node(id).children[0] {
		h++
	}
	return h
}

// Stats returns a diagnostics snapshot.
func (t *RangeIndex[V]) Stats() RangeIndexStats {
	leaves := 0
	for id := t.leftmostLeaf(); id != noNode; id = t.node(id).next {
		leaves++
	}
	return RangeIndexStats{
		Size:       t.size,
		Keys:       t.keys,
		Degree:     t.degree,
		Height:     t.Height(),
		LeafNodes:  leaves,
		TotalNodes: len(t.nodes),
	}
}

// Validate checks ordering, occupancy, uniform leaf depth and the leaf chain.
// It returns one error per violation found.
func (t *RangeIndex[V]) Validate() []error {
	var errs []error
	leafDepth := -1
	var leaves []nodeID

	var walk func(id nodeID, depth int, lo, hi *string)
	walk = func(id nodeID, depth int, lo, hi *string) {
		n := t.node(id)
		if id != t.root && len(n.keys) < t.degree-1 {
			errs = append(errs, fmt.Errorf("node %d holds %d keys, minimum is %d", id, len(n.keys), t.degree-1))
		}
		if len(n.keys) > 2*t.degree-1 {
			errs = append(errs, fmt.Errorf("node %d holds %d keys, maximum is %d", id, len(n.keys), 2*t.degree-1))
		}
		for i := 1; i < len(n.keys); i++ {
			if n.keys[i-1] >= n.keys[i] {
				errs = append(errs, fmt.Errorf("node %d keys out of order at %d", id, i))
			}
		}
		for _, k := range n.keys {
			if (lo != nil && k < *lo) || (hi != nil && k >= *hi) {
				errs = append(errs, fmt.Errorf("node %d key %q outside separator bounds", id, k))
			}
		}

		if n.leaf {
			if leafDepth == -1 {
				leafDepth = depth
			} else if depth != leafDepth {
				errs = append(errs, fmt.Errorf("leaf %d at depth %d, expected %d", id, depth, leafDepth))
			}
			if len(n.values) != len(n.keys) {
				errs = append(errs, fmt.Errorf("leaf %d has %d keys but %d value lists", id, len(n.keys), len(n.values)))
			}
			leaves = append(leaves, id)
			return
		}

		if len(n.children) != len(n.keys)+1 {
			errs = append(errs, fmt.Errorf("internal node %d has %d keys but %d children", id, len(n.keys), len(n.children)))
			return
		}
		for i, child := range n.children {
			childLo, childHi := lo, hi
			if i > 0 {
				childLo = &n.keys[i-1]
			}
			if i < len(n.keys) {
				childHi = &n.keys[i]
			}
			walk(child, depth+1, childLo, childHi)
		}
	}
	walk(t.root, 0, nil, nil)

	chained := 0
	values := 0
	for id := t.leftmostLeaf(); id != noNode; id = t.node(id).next {
		if chained < len(leaves) && leaves[chained] != id {
			errs = append(errs, fmt.Errorf("leaf chain visits %d where tree order has %d", id, leaves[chained]))
		}
		for _, v := range t.node(id).values {
			values += len(v)
		}
		chained++
	}
	if chained != len(leaves) {
		errs = append(errs, fmt.Errorf("leaf chain has %d leaves, tree has %d", chained, len(leaves)))
	}
	if values != t.size {
		errs = append(errs, fmt.Errorf("leaves hold %d values, size is %d", values, t.size))
	}
	return errs
}
