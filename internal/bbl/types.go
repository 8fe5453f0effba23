package bbl

import (
	"fmt"
	"strings"
)

// Site is where a basic block executes.
type Site int8

const (
	CPU Site = iota
	PIM
	// Invalid marks a block that has not been decided yet.
	Invalid Site = -1
)

// NumSites is the number of real execution sites (CPU and PIM).
const NumSites = 2

// Sites lists the real execution sites in index order.
var Sites = [NumSites]Site{CPU, PIM}

func (s Site) String() string {
	switch s {
	case CPU:
		return "CPU"
	case PIM:
		return "PIM"
	default:
		return "INVALID"
	}
}

// Other returns the opposite real site. Invalid stays Invalid.
func (s Site) Other() Site {
	switch s {
	case CPU:
		return PIM
	case PIM:
		return CPU
	default:
		return Invalid
	}
}

// Hash is the 128-bit content hash of a block's instruction sequence.
// Two blocks with identical instructions share a hash and are one logical block.
type Hash struct {
	Hi uint64
	Lo uint64
}

// GlobalHash identifies code that runs outside any tracked block.
var GlobalHash = Hash{}

// Less orders hashes by Hi, then Lo.
func (h Hash) Less(o Hash) bool {
	if h.Hi != o.Hi {
		return h.Hi < o.Hi
	}
	return h.Lo < o.Lo
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x:%016x", h.Hi, h.Lo)
}

// ID is a dense, zero-based block identifier, stable for one profiling run.
type ID int

const (
	// GlobalID is reserved for GlobalHash.
	GlobalID ID = 0
	// FirstID is the first id handed out to a tracked block.
	FirstID ID = 1
)

// Stats is the aggregate cost of one block on one site.
type Stats struct {
	ElapsedTime       float64 // nanoseconds
	InstructionCount  uint64
	MemoryAccessCount uint64
}

// Merge sums o into s.
func (s *Stats) Merge(o Stats) {
	s.ElapsedTime += o.ElapsedTime
	s.InstructionCount += o.InstructionCount
	s.MemoryAccessCount += o.MemoryAccessCount
}

// MPKI returns memory accesses per kilo-instruction, 0 when no instruction ran.
func (s Stats) MPKI() float64 {
	if s.InstructionCount == 0 {
		return 0
	}
	return float64(s.MemoryAccessCount) * 1000 / float64(s.InstructionCount)
}

// ThreadStats tracks one block observed on several threads.
// Counts are summed; elapsed time is the slowest thread's total, since the
// threads ran in parallel.
type ThreadStats struct {
	ThreadTimes       []float64
	InstructionCount  uint64
	MemoryAccessCount uint64
}

// Add accumulates an observation made on thread.
func (t *ThreadStats) Add(thread int, s Stats) {
	for len(t.ThreadTimes) <= thread {
		t.ThreadTimes = append(t.ThreadTimes, 0)
	}
	t.ThreadTimes[thread] += s.ElapsedTime
	t.InstructionCount += s.InstructionCount
	t.MemoryAccessCount += s.MemoryAccessCount
}

// Reduce collapses the per-thread vector with max.
func (t ThreadStats) Reduce() Stats {
	var elapsed float64
	for _, v := range t.ThreadTimes {
		elapsed = MaxFloat(elapsed, v)
	}
	return Stats{
		ElapsedTime:       elapsed,
		InstructionCount:  t.InstructionCount,
		MemoryAccessCount: t.MemoryAccessCount,
	}
}

// Decision assigns a site to every block id.
type Decision []Site

// NewDecision returns a decision of length n with every entry set to site.
func NewDecision(n int, site Site) Decision {
	d := make(Decision, n)
	for i := range d {
		d[i] = site
	}
	return d
}

func (d Decision) Clone() Decision {
	c := make(Decision, len(d))
	copy(c, d)
	return c
}

// Count returns how many blocks are assigned to site.
func (d Decision) Count(site Site) int {
	n := 0
	for _, s := range d {
		if s == site {
			n++
		}
	}
	return n
}

// String renders the decision compactly, one character per block: C, P or -.
func (d Decision) String() string {
	var sb strings.Builder
	sb.Grow(len(d))
	for _, s := range d {
		switch s {
		case CPU:
			sb.WriteByte('C')
		case PIM:
			sb.WriteByte('P')
		default:
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

func MaxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
