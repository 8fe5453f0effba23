package solver

import (
	"io"
	"math/rand"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestModel builds a model with no GLOBAL block whose instruction costs
// are cpu and pim directly.
func newTestModel(cpu, pim []float64, segs ...reuse.Segment) *Model {
	trie := reuse.NewTrie()
	for _, s := range segs {
		trie.Update(s)
	}
	n := len(cpu)
	m := &Model{Trie: trie, GlobalID: -1, Hashes: make([]bbl.Hash, n)}
	for i := range m.Hashes {
		m.Hashes[i] = bbl.Hash{Hi: 0xfeed, Lo: uint64(i)}
	}
	for site, costs := range [bbl.NumSites][]float64{bbl.CPU: cpu, bbl.PIM: pim} {
		m.Instr[site] = append([]float64(nil), costs...)
		m.Mem[site] = make([]float64, n)
		m.Stats[site] = make([]bbl.Stats, n)
		for i, c := range costs {
			m.Stats[site][i] = bbl.Stats{ElapsedTime: c, InstructionCount: 1000}
		}
	}
	return m
}

func newTestSolver(t *testing.T, m *Model, cfg Config) *Solver {
	t.Helper()
	s, err := New(m, cfg, quietLogger())
	require.NoError(t, err)
	return s
}

func TestScenario_PIMWinsWithoutReuse(t *testing.T) {
	m := newTestModel([]float64{10, 10}, []float64{1, 1})
	s := newTestSolver(t, m, DefaultConfig())

	greedy := s.Greedy()
	require.Equal(t, bbl.Decision{bbl.PIM, bbl.PIM}, greedy)

	solved := s.Heuristic()
	require.Equal(t, bbl.Decision{bbl.PIM, bbl.PIM}, solved)
	require.Equal(t, 2.0, s.Evaluator().Cost(solved).Total())
}

func TestScenario_UniformChainBeatsSplit(t *testing.T) {
	m := newTestModel(
		[]float64{5, 5, 5},
		[]float64{1, 1, 1},
		reuse.NewSegment(0, 5, 0, 1, 2),
	)
	cfg := DefaultConfig()
	cfg.CPU.FlushCost = 60
	cfg.PIM.FetchCost = 30
	s := newTestSolver(t, m, cfg)
	e := s.Evaluator()

	uniform := e.Cost(bbl.Decision{bbl.PIM, bbl.PIM, bbl.PIM})
	require.Equal(t, 3.0, uniform.Total())
	require.Zero(t, uniform.Reuse)

	split := e.Cost(bbl.Decision{bbl.CPU, bbl.PIM, bbl.PIM})
	require.Equal(t, 457.0, split.Total())
	require.Equal(t, 450.0, split.Reuse)

	solved := s.Heuristic()
	require.Equal(t, bbl.Decision{bbl.PIM, bbl.PIM, bbl.PIM}, solved)
}

func TestGreedy_BoundedByConstantBaselines(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 64
	cpu, pim := make([]float64, n), make([]float64, n)
	for i := range cpu {
		cpu[i] = rng.Float64() * 100
		pim[i] = rng.Float64() * 100
	}
	m := newTestModel(cpu, pim)
	for i := 0; i < n; i++ {
		m.Mem[bbl.CPU][i] = rng.Float64() * 10
		m.Mem[bbl.PIM][i] = rng.Float64() * 10
	}
	s := newTestSolver(t, m, DefaultConfig())
	e := s.Evaluator()

	local := func(d bbl.Decision) float64 {
		b := e.Cost(d)
		return b.Instruction + b.Memory
	}
	g := local(s.Greedy())
	require.LessOrEqual(t, g, local(s.AllCPU()))
	require.LessOrEqual(t, g, local(s.AllPIM()))
}

func TestEvaluator_InvalidExcluded(t *testing.T) {
	m := newTestModel([]float64{3, 4}, []float64{1, 2})
	e := NewEvaluator(m, DefaultConfig())

	require.Equal(t, Breakdown{Instruction: 4}, e.Cost(bbl.Decision{bbl.Invalid, bbl.CPU}))
	require.Zero(t, e.Cost(bbl.Decision{bbl.Invalid, bbl.Invalid}).Total())
}

func TestHeuristic_LocalSearchRepairsGreedySplit(t *testing.T) {
	m := newTestModel(
		[]float64{1, 10},
		[]float64{10, 1},
		reuse.NewSegment(0, 10, 0, 1),
	)
	cfg := DefaultConfig()
	cfg.BatchThreshold = 1 // skip the batch search entirely

	cfg.LocalSearchPasses = 0
	s := newTestSolver(t, m, cfg)
	require.Equal(t, bbl.Decision{bbl.CPU, bbl.PIM}, s.Heuristic())

	cfg.LocalSearchPasses = 2
	s = newTestSolver(t, m, cfg)
	d := s.Heuristic()
	require.Equal(t, bbl.Decision{bbl.PIM, bbl.PIM}, d)
	require.Equal(t, 11.0, s.Evaluator().Cost(d).Total())
}

func TestHeuristic_MaxBatches(t *testing.T) {
	m := newTestModel(
		[]float64{1, 10, 1, 10},
		[]float64{10, 1, 10, 1},
		reuse.NewSegment(0, 10, 0, 1),
		reuse.NewSegment(2, 5, 2, 3),
	)
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.LocalSearchPasses = 0
	cfg.MaxBatches = 1
	s := newTestSolver(t, m, cfg)

	// First chain is solved jointly, the second falls back to greedy.
	d := s.Heuristic()
	require.Equal(t, d[0], d[1])
	require.Equal(t, bbl.Decision{bbl.CPU, bbl.PIM}, d[2:])
}

func TestNextBatch_DefersOverflowingLeaf(t *testing.T) {
	m := newTestModel(
		make([]float64, 8), make([]float64, 8),
		reuse.NewSegment(0, 9, 0, 1, 2),
		reuse.NewSegment(2, 8, 2, 3),
		reuse.NewSegment(4, 7, 4, 5, 6),
		reuse.NewSegment(1, 6, 0, 1),
	)
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	s := newTestSolver(t, m, cfg)

	leaves := m.Trie.Leaves()
	seen := make([]bool, m.Len())

	b, pos := s.nextBatch(leaves, 0, seen)
	require.Equal(t, []bbl.ID{0, 1, 2, 3}, b.ids)
	require.Len(t, b.leaves, 2)
	require.Equal(t, 2, pos)

	b, pos = s.nextBatch(leaves, pos, seen)
	require.Equal(t, []bbl.ID{4, 5, 6}, b.ids)
	require.Len(t, b.leaves, 2) // {0,1} adds nothing new
	require.Equal(t, 4, pos)
}

func TestNextBatch_TruncatesOversizedLeaf(t *testing.T) {
	m := newTestModel(
		make([]float64, 6), make([]float64, 6),
		reuse.NewSegment(0, 1, 0, 1, 2, 3, 4, 5),
	)
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	s := newTestSolver(t, m, cfg)

	seen := make([]bool, m.Len())
	b, pos := s.nextBatch(m.Trie.Leaves(), 0, seen)
	require.Equal(t, []bbl.ID{0, 1, 2}, b.ids)
	require.Equal(t, 1, pos)
	require.False(t, seen[3])
}

func TestSolve_Determinism(t *testing.T) {
	run := func() []Result {
		rng := rand.New(rand.NewSource(42))
		n := 30
		cpu, pim := make([]float64, n), make([]float64, n)
		for i := range cpu {
			cpu[i] = rng.Float64() * 50
			pim[i] = rng.Float64() * 50
		}
		var segs []reuse.Segment
		for i := 0; i < 40; i++ {
			members := []bbl.ID{bbl.ID(rng.Intn(n)), bbl.ID(rng.Intn(n)), bbl.ID(rng.Intn(n))}
			segs = append(segs, reuse.NewSegment(members[0], uint64(rng.Intn(20)+1), members...))
		}
		cfg := DefaultConfig()
		cfg.BatchSize = 6
		s := newTestSolver(t, newTestModel(cpu, pim, segs...), cfg)
		res, err := s.Solve(ModeReuse)
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	require.Len(t, a, 5)
	for i := range a {
		require.Equal(t, a[i].Name, b[i].Name)
		require.Equal(t, a[i].Decision.String(), b[i].Decision.String())
		require.Equal(t, a[i].Breakdown, b[i].Breakdown)
	}
	require.Equal(t, StrategyReuse, a[4].Name)
}

func TestSolve_StateMachine(t *testing.T) {
	s := newTestSolver(t, newTestModel([]float64{1}, []float64{2}), DefaultConfig())
	require.Equal(t, StatsLoaded, s.State())

	require.ErrorIs(t, s.MarkReported(), ErrState)

	res, err := s.Solve(ModeMPKI)
	require.NoError(t, err)
	require.Len(t, res, 4)
	require.Equal(t, DecisionComputed, s.State())

	_, err = s.Solve(ModeMPKI)
	require.ErrorIs(t, err, ErrState)

	require.NoError(t, s.MarkReported())
	require.Equal(t, Reported, s.State())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 40
	_, err := New(newTestModel([]float64{1}, []float64{1}), cfg, quietLogger())
	require.ErrorIs(t, err, ErrBatchSize)
}
