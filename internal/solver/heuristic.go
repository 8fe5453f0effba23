package solver

import (
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
)

// batch is a group of reuse chains solved jointly.
type batch struct {
	leaves []reuse.Leaf
	ids    []bbl.ID // blocks first decided by this batch
}

// Heuristic is the batched reuse-aware search:
//
//  1. order reuse chains by descending repetition count;
//  2. group them into batches of at most BatchSize new blocks;
//  3. enumerate all 2^k placements of each batch's new blocks with the rest
//     of the decision fixed and keep the cheapest;
//  4. stop early once a batch cannot move the total by BatchThreshold;
//  5. place the remaining blocks greedily;
//  6. run LocalSearchPasses rounds of single-block flips.
//
// The result is an approximation; nothing here is globally optimal.
func (s *Solver) Heuristic() bbl.Decision {
	trie := s.model.Trie
	d := bbl.NewDecision(s.model.Len(), bbl.Invalid)
	s.pin(d)

	leaves := trie.Leaves()
	slices.SortStableFunc(leaves, func(a, b reuse.Leaf) bool {
		return trie.Count(a) > trie.Count(b)
	})

	seen := make([]bool, len(d))
	for i, site := range d {
		seen[i] = site != bbl.Invalid
	}

	pos := 0
	for n := 0; pos < len(leaves); n++ {
		if s.cfg.MaxBatches > 0 && n >= s.cfg.MaxBatches {
			s.log.WithField("batches", n).Debug("batch limit reached")
			break
		}

		var b batch
		b, pos = s.nextBatch(leaves, pos, seen)

		if s.cfg.BatchThreshold > 0 {
			var potential float64
			for _, l := range b.leaves {
				potential += s.eval.MaxPenalty(l)
			}
			ref := d.Clone()
			s.greedyFill(ref)
			running := s.eval.Cost(ref).Total()
			if potential < s.cfg.BatchThreshold*running {
				s.log.WithFields(logrus.Fields{
					"batch":     n,
					"potential": potential,
					"running":   running,
				}).Debug("diminishing returns, stopping batch search")
				break
			}
		}

		best := s.enumerate(d, b.ids)
		s.log.WithFields(logrus.Fields{
			"batch":   n,
			"leaves":  len(b.leaves),
			"new_ids": len(b.ids),
			"cost":    best,
		}).Debug("batch solved")
	}

	s.greedyFill(d)
	s.localSearch(d)
	return d
}

// nextBatch admits leaves starting at pos until the next one would push the
// batch past BatchSize new blocks; that leaf is left for the next batch. A
// lone leaf that is too large on its own contributes its first BatchSize new
// blocks and the rest are left undecided.
func (s *Solver) nextBatch(leaves []reuse.Leaf, pos int, seen []bool) (batch, int) {
	var b batch
	for pos < len(leaves) {
		seg := s.model.Trie.Export(leaves[pos])
		var fresh []bbl.ID
		for _, id := range seg.Members {
			if !seen[id] {
				fresh = append(fresh, id)
			}
		}

		if len(b.ids)+len(fresh) > s.cfg.BatchSize {
			if len(b.leaves) > 0 {
				break
			}
			fresh = fresh[:s.cfg.BatchSize]
		}

		for _, id := range fresh {
			seen[id] = true
		}
		b.ids = append(b.ids, fresh...)
		b.leaves = append(b.leaves, leaves[pos])
		pos++
	}
	slices.Sort(b.ids)
	return b, pos
}

// enumerate tries every CPU/PIM placement of ids, leaves the cheapest in d
// and returns its cost. Ties keep the first placement found, which favors the
// CPU.
func (s *Solver) enumerate(d bbl.Decision, ids []bbl.ID) float64 {
	k := len(ids)
	best := math.Inf(1)
	bestMask := 0
	for mask := 0; mask < 1<<k; mask++ {
		place(d, ids, mask)
		if c := s.eval.Cost(d).Total(); c < best {
			best, bestMask = c, mask
		}
	}
	place(d, ids, bestMask)
	return best
}

// place sets ids[i] to PIM where bit i of mask is set, CPU otherwise.
func place(d bbl.Decision, ids []bbl.ID, mask int) {
	for i, id := range ids {
		if mask>>i&1 == 1 {
			d[id] = bbl.PIM
		} else {
			d[id] = bbl.CPU
		}
	}
}

// localSearch flips one block at a time and keeps the flip only when the
// total strictly drops. It runs at most LocalSearchPasses passes.
func (s *Solver) localSearch(d bbl.Decision) {
	cur := s.eval.Cost(d).Total()
	for pass := 0; pass < s.cfg.LocalSearchPasses; pass++ {
		flips := 0
		for i := range d {
			if s.pinned(bbl.ID(i)) {
				continue
			}
			d[i] = d[i].Other()
			if c := s.eval.Cost(d).Total(); c < cur {
				cur = c
				flips++
			} else {
				d[i] = d[i].Other()
			}
		}
		s.log.WithFields(logrus.Fields{"pass": pass, "flips": flips, "cost": cur}).Debug("local search pass")
		if flips == 0 {
			break
		}
	}
}
