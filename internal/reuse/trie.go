package reuse

import (
	"pimoffload/internal/bbl"
)

const rootIndex int32 = 0

// Leaf addresses a leaf node of a Trie.
type Leaf int32

type node struct {
	id       bbl.ID // member id; for a leaf, the segment head
	parent   int32
	count    uint64 // leaves only
	leaf     bool
	children []int32 // internal children, insertion order
	leaves   []int32 // leaf children, one per distinct head
}

type edge struct {
	parent int32
	id     bbl.ID
	leaf   bool
}

// Trie deduplicates reuse segments. Each segment's sorted member set is a
// path from the root; the path ends in a leaf keyed by the segment's head
// that holds the cumulative repetition count.
//
// A node can carry internal children and leaf children at the same time:
// segments {1,2} and {1,2,3} share the node for 2, and segments with the same
// member set but different heads fan out into separate leaves under the same
// node.
//
// Nodes live in an arena and refer to each other by index. Parent indices make
// leaf-to-root reconstruction a simple loop.
type Trie struct {
	nodes  []node
	edges  map[edge]int32
	leaves []int32
	maxID  bbl.ID
}

func NewTrie() *Trie {
	t := &Trie{}
	t.Reset()
	return t
}

// Reset drops every segment.
func (t *Trie) Reset() {
	t.nodes = []node{{id: -1, parent: -1}}
	t.edges = make(map[edge]int32)
	t.leaves = nil
	t.maxID = -1
}

func (t *Trie) child(parent int32, id bbl.ID, leaf bool) int32 {
	k := edge{parent: parent, id: id, leaf: leaf}
	if idx, ok := t.edges[k]; ok {
		return idx
	}
	idx := int32(len(t.nodes))
	t.nodes = append(t.nodes, node{id: id, parent: parent, leaf: leaf})
	t.edges[k] = idx
	if leaf {
		t.nodes[parent].leaves = append(t.nodes[parent].leaves, idx)
		t.leaves = append(t.leaves, idx)
	} else {
		t.nodes[parent].children = append(t.nodes[parent].children, idx)
	}
	return idx
}

// Update inserts seg, adding its count to an existing leaf when the same
// member set and head were seen before. Segments with at most one member
// carry no reuse cost and are ignored.
func (t *Trie) Update(seg Segment) {
	if seg.Size() <= 1 {
		return
	}
	// Members may have been built by hand; the path must follow sorted order.
	s := NewSegment(seg.Head, seg.Count, seg.Members...)

	cur := rootIndex
	for _, id := range s.Members {
		cur = t.child(cur, id, false)
		if id > t.maxID {
			t.maxID = id
		}
	}
	l := t.child(cur, s.Head, true)
	t.nodes[l].count += s.Count
}

// Export rebuilds the segment stored at leaf.
func (t *Trie) Export(leaf Leaf) Segment {
	n := &t.nodes[leaf]
	seg := Segment{Head: n.id, Count: n.count}
	for p := n.parent; p != rootIndex; p = t.nodes[p].parent {
		seg.Members = append(seg.Members, t.nodes[p].id)
	}
	// Collected leaf to root, i.e. descending.
	for i, j := 0, len(seg.Members)-1; i < j; i, j = i+1, j-1 {
		seg.Members[i], seg.Members[j] = seg.Members[j], seg.Members[i]
	}
	return seg
}

// Segments exports every leaf in insertion order.
func (t *Trie) Segments() []Segment {
	segs := make([]Segment, 0, len(t.leaves))
	for _, l := range t.leaves {
		segs = append(segs, t.Export(Leaf(l)))
	}
	return segs
}

// Leaves returns every leaf in insertion order.
func (t *Trie) Leaves() []Leaf {
	out := make([]Leaf, len(t.leaves))
	for i, l := range t.leaves {
		out[i] = Leaf(l)
	}
	return out
}

func (t *Trie) Count(leaf Leaf) uint64 { return t.nodes[leaf].count }
func (t *Trie) Head(leaf Leaf) bbl.ID  { return t.nodes[leaf].id }

// NumLeaves returns the number of distinct segments.
func (t *Trie) NumLeaves() int { return len(t.leaves) }

// NumNodes returns the number of nodes, root included.
func (t *Trie) NumNodes() int { return len(t.nodes) }

// MaxID returns the largest block id referenced, or -1 when empty.
func (t *Trie) MaxID() bbl.ID { return t.maxID }

// MaxPenalty is the worst cost leaf can add to any decision.
func (t *Trie) MaxPenalty(leaf Leaf, p Penalty) float64 {
	return float64(t.nodes[leaf].count) * p.Max()
}

// Cost returns the flush+fetch cost that decision incurs over every chain.
//
// The walk starts at each child of the root. Once a parent/child pair
// disagrees on site, every leaf below is charged; a leaf is also charged when
// its head's site differs from its parent's. Each leaf is charged at most
// once. Undecided (Invalid) nodes are skipped over: they neither start nor
// detect divergence, and an undecided head is never charged.
func (t *Trie) Cost(decision bbl.Decision, p Penalty) float64 {
	var cost float64
	for _, c := range t.nodes[rootIndex].children {
		cost += t.walk(decision, p, c, bbl.Invalid, false)
	}
	return cost
}

func (t *Trie) walk(decision bbl.Decision, p Penalty, idx int32, parentSite bbl.Site, diverged bool) float64 {
	n := &t.nodes[idx]
	site := decision[n.id]

	if n.leaf {
		if site == bbl.Invalid {
			return 0
		}
		if diverged || (parentSite != bbl.Invalid && site != parentSite) {
			return float64(n.count) * p[site]
		}
		return 0
	}

	if site != bbl.Invalid {
		if parentSite != bbl.Invalid && site != parentSite {
			diverged = true
		}
		parentSite = site
	}

	var cost float64
	for _, c := range n.children {
		cost += t.walk(decision, p, c, parentSite, diverged)
	}
	for _, l := range n.leaves {
		cost += t.walk(decision, p, l, parentSite, diverged)
	}
	return cost
}
