package solver

import (
	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
)

// Breakdown is the predicted cost of a decision, split by source.
type Breakdown struct {
	Instruction float64
	Memory      float64
	Reuse       float64
}

func (b Breakdown) Total() float64 {
	return b.Instruction + b.Memory + b.Reuse
}

// Evaluator scores decisions against a model.
type Evaluator struct {
	model   *Model
	penalty reuse.Penalty
}

func NewEvaluator(m *Model, cfg Config) *Evaluator {
	return &Evaluator{model: m, penalty: cfg.Penalty()}
}

// Cost computes the per-block instruction and memory cost of every decided
// block plus the reuse penalty of the whole trie. Invalid entries are
// excluded, which lets the search score partial decisions.
func (e *Evaluator) Cost(d bbl.Decision) Breakdown {
	var b Breakdown
	for id, site := range d {
		if site == bbl.Invalid {
			continue
		}
		b.Instruction += e.model.Instr[site][id]
		b.Memory += e.model.Mem[site][id]
	}
	b.Reuse = e.ReuseCost(d)
	return b
}

// ReuseCost is the flush+fetch part of Cost.
func (e *Evaluator) ReuseCost(d bbl.Decision) float64 {
	return e.model.Trie.Cost(d, e.penalty)
}

// MaxPenalty is the most a single leaf can add to any decision.
func (e *Evaluator) MaxPenalty(leaf reuse.Leaf) float64 {
	return e.model.Trie.MaxPenalty(leaf, e.penalty)
}
