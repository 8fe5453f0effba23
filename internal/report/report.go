package report

import (
	"fmt"
	"io"
	"strings"

	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
	"pimoffload/internal/solver"
)

// Header describes the run a report belongs to.
type Header struct {
	Mode     solver.Mode
	CPUFile  string
	PIMFile  string
	ReuseLog string
	Blocks   int
	Segments int
}

// Write renders the summary table followed by one decision table per
// strategy. All numbers come straight from each result's Breakdown.
func Write(w io.Writer, h Header, results []solver.Result, m *solver.Model) error {
	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 96) + "\n")
	fmt.Fprintf(&sb, "  CPU/PIM offload decision (%s mode)\n", h.Mode)
	sb.WriteString(strings.Repeat("=", 96) + "\n")
	fmt.Fprintf(&sb, "cpu stats:  %s\n", h.CPUFile)
	fmt.Fprintf(&sb, "pim stats:  %s\n", h.PIMFile)
	if h.ReuseLog != "" {
		fmt.Fprintf(&sb, "reuse log:  %s\n", h.ReuseLog)
	}
	fmt.Fprintf(&sb, "blocks: %d  reuse segments: %d\n\n", h.Blocks, h.Segments)

	fmt.Fprintf(&sb, "%-10s %16s %16s %16s %16s %7s %7s\n",
		"Strategy", "Instruction", "Memory", "Reuse", "Total", "CPU", "PIM")
	sb.WriteString(strings.Repeat("-", 96) + "\n")
	for _, r := range results {
		b := r.Breakdown
		fmt.Fprintf(&sb, "%-10s %16.3f %16.3f %16.3f %16.3f %7d %7d\n",
			r.Name, b.Instruction, b.Memory, b.Reuse, b.Total(),
			r.Decision.Count(bbl.CPU), r.Decision.Count(bbl.PIM))
	}
	sb.WriteString(strings.Repeat("=", 96) + "\n")

	for _, r := range results {
		sb.WriteString("\n")
		writeDecision(&sb, r, m)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeDecision(sb *strings.Builder, r solver.Result, m *solver.Model) {
	fmt.Fprintf(sb, "Decision: %s\n", r.Name)
	sb.WriteString(strings.Repeat("-", 96) + "\n")
	fmt.Fprintf(sb, "%6s %18s %18s %5s %16s %16s\n",
		"BBLID", "Hash(hi)", "Hash(lo)", "Site", "CPU cost", "PIM cost")
	for i, site := range r.Decision {
		id := bbl.ID(i)
		hash := m.Hashes[i]
		fmt.Fprintf(sb, "%6d %18x %18x %5s %16.3f %16.3f\n",
			id, hash.Hi, hash.Lo, site,
			m.BlockCost(bbl.CPU, id), m.BlockCost(bbl.PIM, id))
	}
}

// WriteSegments dumps every distinct reuse segment in insertion order.
func WriteSegments(w io.Writer, t *reuse.Trie) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reuse segments: %d distinct, %d trie nodes\n", t.NumLeaves(), t.NumNodes())
	for i, seg := range t.Segments() {
		fmt.Fprintf(&sb, "  [%d] %s\n", i, seg)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
