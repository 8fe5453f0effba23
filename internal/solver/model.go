package solver

import (
	"fmt"

	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
)

// Model is the in-memory data one solve owns: per-site block costs and the
// reuse trie. It is read-only once built.
type Model struct {
	Hashes []bbl.Hash
	Stats  [bbl.NumSites][]bbl.Stats

	// Per-site costs, indexed by site then block id. The configured
	// multipliers and ILP/MLP divisors are already applied.
	Instr [bbl.NumSites][]float64
	Mem   [bbl.NumSites][]float64

	Trie *reuse.Trie

	// GlobalID is the block standing for untracked code, or -1.
	GlobalID bbl.ID
}

// NewModel turns an aggregation snapshot into per-site costs. Every block the
// trie references must exist in the snapshot.
func NewModel(snap *bbl.Snapshot, trie *reuse.Trie, cfg Config) (*Model, error) {
	if trie == nil {
		trie = reuse.NewTrie()
	}
	n := snap.Len()
	if int(trie.MaxID()) >= n {
		return nil, fmt.Errorf("%w: block %d, only %d blocks profiled",
			reuse.ErrUnknownBlock, trie.MaxID(), n)
	}

	m := &Model{
		Hashes:   snap.Hashes,
		Stats:    snap.Stats,
		Trie:     trie,
		GlobalID: bbl.GlobalID,
	}
	for _, site := range bbl.Sites {
		sc := cfg.Site(site)
		m.Instr[site] = make([]float64, n)
		m.Mem[site] = make([]float64, n)
		for id, s := range snap.Stats[site] {
			m.Instr[site][id] = s.ElapsedTime * sc.InstructionMultiplier / sc.ILP
			m.Mem[site][id] = float64(s.MemoryAccessCount) * sc.MemoryAccessCost / sc.MLP
		}
		if !cfg.TrackGlobal {
			m.Instr[site][bbl.GlobalID] = 0
			m.Mem[site][bbl.GlobalID] = 0
		}
	}
	return m, nil
}

// Len returns the number of blocks.
func (m *Model) Len() int {
	return len(m.Instr[bbl.CPU])
}

// BlockCost returns the instruction plus memory cost of id on site.
func (m *Model) BlockCost(site bbl.Site, id bbl.ID) float64 {
	return m.Instr[site][id] + m.Mem[site][id]
}
