package reuse

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"pimoffload/internal/bbl"
)

// Segment is the set of blocks that touched one memory location between two
// consecutive writes. Head is the block that issued the opening write and is
// always a member. Members are kept sorted ascending and free of duplicates.
type Segment struct {
	Head    bbl.ID
	Count   uint64
	Members []bbl.ID
}

// NewSegment builds a segment from an arbitrary member list.
func NewSegment(head bbl.ID, count uint64, members ...bbl.ID) Segment {
	s := Segment{Head: head, Count: count}
	s.Insert(head)
	for _, m := range members {
		s.Insert(m)
	}
	return s
}

// Insert adds id to the member set.
func (s *Segment) Insert(id bbl.ID) {
	i, found := slices.BinarySearch(s.Members, id)
	if found {
		return
	}
	s.Members = slices.Insert(s.Members, i, id)
}

// Size returns the number of distinct members.
func (s Segment) Size() int {
	return len(s.Members)
}

// Equal compares head and member set. Counts are not part of identity.
func (s Segment) Equal(o Segment) bool {
	return s.Head == o.Head && slices.Equal(s.Members, o.Members)
}

func (s Segment) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "head=%d count=%d {", s.Head, s.Count)
	for i, m := range s.Members {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d", m)
	}
	sb.WriteString("}")
	return sb.String()
}

// Penalty is the one-time flush+fetch cost charged to a diverging chain,
// indexed by the site of the chain's head.
type Penalty [bbl.NumSites]float64

// NewPenalty combines per-site flush and fetch costs. A head on the CPU
// dirties the line there (flush on CPU) and the reader pulls it from PIM-side
// memory (fetch on PIM); the PIM case mirrors it.
func NewPenalty(flush, fetch [bbl.NumSites]float64) Penalty {
	return Penalty{
		bbl.CPU: flush[bbl.CPU] + fetch[bbl.PIM],
		bbl.PIM: flush[bbl.PIM] + fetch[bbl.CPU],
	}
}

// Max returns the larger of the two directions.
func (p Penalty) Max() float64 {
	return bbl.MaxFloat(p[bbl.CPU], p[bbl.PIM])
}
