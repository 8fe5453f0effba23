package solver

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"pimoffload/internal/bbl"
)

// ErrState is returned when the solver pipeline is driven out of order.
var ErrState = errors.New("solver called out of order")

// State tracks the single-shot pipeline of one solve.
type State int

const (
	Uninitialized State = iota
	StatsLoaded
	DecisionComputed
	Reported
)

func (s State) String() string {
	switch s {
	case StatsLoaded:
		return "stats-loaded"
	case DecisionComputed:
		return "decision-computed"
	case Reported:
		return "reported"
	default:
		return "uninitialized"
	}
}

// Mode selects which strategies a solve runs.
type Mode string

const (
	ModeMPKI  Mode = "mpki"
	ModeReuse Mode = "reuse"
	ModeDebug Mode = "debug"
)

// UsesReuse reports whether the mode needs a reuse log.
func (m Mode) UsesReuse() bool {
	return m == ModeReuse || m == ModeDebug
}

// Strategy names as they appear in reports.
const (
	StrategyAllCPU = "all-cpu"
	StrategyAllPIM = "all-pim"
	StrategyGreedy = "greedy"
	StrategyMPKI   = "mpki"
	StrategyReuse  = "reuse"
)

// Result is one strategy's decision and its evaluated cost.
type Result struct {
	Name      string
	Decision  bbl.Decision
	Breakdown Breakdown
}

type strategy struct {
	name string
	run  func() bbl.Decision
}

// Solver owns one model for the duration of one solve. It is not safe for
// concurrent use and cannot be reused for another dataset.
type Solver struct {
	model *Model
	cfg   Config
	eval  *Evaluator
	log   *logrus.Logger
	state State

	results []Result
}

// New validates cfg and returns a solver in the StatsLoaded state. A nil
// logger means the logrus standard logger.
func New(m *Model, cfg Config, log *logrus.Logger) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: no model", ErrState)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Solver{
		model: m,
		cfg:   cfg,
		eval:  NewEvaluator(m, cfg),
		log:   log,
		state: StatsLoaded,
	}, nil
}

func (s *Solver) State() State          { return s.state }
func (s *Solver) Evaluator() *Evaluator { return s.eval }
func (s *Solver) Model() *Model         { return s.model }

// Solve runs every strategy of mode and evaluates them. It may be called once.
func (s *Solver) Solve(mode Mode) ([]Result, error) {
	if s.state != StatsLoaded {
		return nil, fmt.Errorf("%w: solve in state %s", ErrState, s.state)
	}

	strategies := []strategy{
		{StrategyAllCPU, s.AllCPU},
		{StrategyAllPIM, s.AllPIM},
		{StrategyGreedy, s.Greedy},
		{StrategyMPKI, s.MPKI},
	}
	if mode.UsesReuse() {
		strategies = append(strategies, strategy{StrategyReuse, s.Heuristic})
	}

	s.results = s.results[:0]
	for _, st := range strategies {
		d := st.run()
		b := s.eval.Cost(d)
		s.log.WithFields(logrus.Fields{
			"strategy":    st.name,
			"instruction": b.Instruction,
			"memory":      b.Memory,
			"reuse":       b.Reuse,
			"total":       b.Total(),
			"pim_blocks":  d.Count(bbl.PIM),
		}).Info("strategy evaluated")
		s.results = append(s.results, Result{Name: st.name, Decision: d, Breakdown: b})
	}

	s.state = DecisionComputed
	return s.results, nil
}

// MarkReported closes the pipeline once the results have been written.
func (s *Solver) MarkReported() error {
	if s.state != DecisionComputed {
		return fmt.Errorf("%w: report in state %s", ErrState, s.state)
	}
	s.state = Reported
	return nil
}

// pinned reports whether id is not a decision variable. Untracked code always
// runs on the host unless global tracking is on.
func (s *Solver) pinned(id bbl.ID) bool {
	return !s.cfg.TrackGlobal && id == s.model.GlobalID
}

// constant returns a decision with every free block on site.
func (s *Solver) constant(site bbl.Site) bbl.Decision {
	d := bbl.NewDecision(s.model.Len(), site)
	s.pin(d)
	return d
}

func (s *Solver) pin(d bbl.Decision) {
	if s.model.GlobalID >= 0 && !s.cfg.TrackGlobal {
		d[s.model.GlobalID] = bbl.CPU
	}
}
