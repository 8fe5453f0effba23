package solver

import (
	"pimoffload/internal/bbl"
)

// AllCPU keeps every block on the CPU.
func (s *Solver) AllCPU() bbl.Decision {
	return s.constant(bbl.CPU)
}

// AllPIM offloads every free block.
func (s *Solver) AllPIM() bbl.Decision {
	return s.constant(bbl.PIM)
}

// Greedy picks, per block, the site with the lower instruction+memory cost.
// Reuse cost is ignored. Ties stay on the CPU.
func (s *Solver) Greedy() bbl.Decision {
	d := bbl.NewDecision(s.model.Len(), bbl.Invalid)
	s.pin(d)
	s.greedyFill(d)
	return d
}

// greedyFill assigns every still-Invalid block by the greedy rule.
func (s *Solver) greedyFill(d bbl.Decision) {
	for i, site := range d {
		if site != bbl.Invalid {
			continue
		}
		id := bbl.ID(i)
		if s.model.BlockCost(bbl.PIM, id) < s.model.BlockCost(bbl.CPU, id) {
			d[i] = bbl.PIM
		} else {
			d[i] = bbl.CPU
		}
	}
}

// MPKI offloads a block iff its PIM-side misses per kilo-instruction exceed
// the configured threshold and it runs more than 1% of all PIM instructions.
// Untracked code always stays on the CPU.
func (s *Solver) MPKI() bbl.Decision {
	stats := s.model.Stats[bbl.PIM]
	var total uint64
	for _, st := range stats {
		total += st.InstructionCount
	}

	d := bbl.NewDecision(s.model.Len(), bbl.CPU)
	for i, st := range stats {
		if bbl.ID(i) == s.model.GlobalID {
			continue
		}
		if st.MPKI() > s.cfg.MPKIThreshold && st.InstructionCount*100 > total {
			d[i] = bbl.PIM
		}
	}
	return d
}
