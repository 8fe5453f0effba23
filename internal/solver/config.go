package solver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"pimoffload/internal/bbl"
	"pimoffload/internal/reuse"
)

// MaxBatchSize bounds the exhaustive 2^k enumeration of one batch.
const MaxBatchSize = 24

// ErrBatchSize is returned for a batch size the exhaustive search cannot handle.
var ErrBatchSize = errors.New("batch size out of range")

// SiteConfig holds the cost knobs of one execution site.
type SiteConfig struct {
	InstructionMultiplier float64 `yaml:"instruction_multiplier"`
	ILP                   float64 `yaml:"ilp"`
	MLP                   float64 `yaml:"mlp"`
	MemoryAccessCost      float64 `yaml:"memory_access_cost"` // ns per access
	FlushCost             float64 `yaml:"flush_cost"`
	FetchCost             float64 `yaml:"fetch_cost"`
}

// Config is everything a solve needs besides its input data.
type Config struct {
	CPU SiteConfig `yaml:"cpu"`
	PIM SiteConfig `yaml:"pim"`

	MPKIThreshold     float64 `yaml:"mpki_threshold"`
	BatchSize         int     `yaml:"batch_size"`
	MaxBatches        int     `yaml:"max_batches"`     // 0 processes every batch
	BatchThreshold    float64 `yaml:"batch_threshold"` // 0 disables early stop
	LocalSearchPasses int     `yaml:"local_search_passes"`
	TrackGlobal       bool    `yaml:"track_global"`
}

func DefaultConfig() Config {
	site := SiteConfig{
		InstructionMultiplier: 1,
		ILP:                   1,
		MLP:                   1,
		FlushCost:             60,
		FetchCost:             30,
	}
	return Config{
		CPU:               site,
		PIM:               site,
		MPKIThreshold:     10,
		BatchSize:         12,
		BatchThreshold:    0.001,
		LocalSearchPasses: 3,
	}
}

// LoadConfig reads a YAML config from path on top of DefaultConfig and
// validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of DefaultConfig. Unknown keys are errors.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the cost model meaningless
// or the batch search infeasible.
func (c Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch_size %d, must be in [1, %d]", ErrBatchSize, c.BatchSize, MaxBatchSize)
	}
	for _, site := range bbl.Sites {
		sc := c.Site(site)
		if sc.ILP <= 0 || sc.MLP <= 0 {
			return fmt.Errorf("%s: ilp and mlp must be positive", site)
		}
		if sc.InstructionMultiplier < 0 || sc.MemoryAccessCost < 0 || sc.FlushCost < 0 || sc.FetchCost < 0 {
			return fmt.Errorf("%s: costs and multipliers must be non-negative", site)
		}
	}
	if c.BatchThreshold < 0 || c.BatchThreshold > 1 {
		return fmt.Errorf("batch_threshold %g must be in [0, 1]", c.BatchThreshold)
	}
	if c.MaxBatches < 0 {
		return fmt.Errorf("max_batches %d must be non-negative", c.MaxBatches)
	}
	if c.LocalSearchPasses < 0 {
		return fmt.Errorf("local_search_passes %d must be non-negative", c.LocalSearchPasses)
	}
	if c.MPKIThreshold < 0 {
		return fmt.Errorf("mpki_threshold %g must be non-negative", c.MPKIThreshold)
	}
	return nil
}

// Site returns the knobs for site.
func (c Config) Site(site bbl.Site) SiteConfig {
	if site == bbl.PIM {
		return c.PIM
	}
	return c.CPU
}

// Penalty returns the per-direction flush+fetch cost.
func (c Config) Penalty() reuse.Penalty {
	return reuse.NewPenalty(
		[bbl.NumSites]float64{bbl.CPU: c.CPU.FlushCost, bbl.PIM: c.PIM.FlushCost},
		[bbl.NumSites]float64{bbl.CPU: c.CPU.FetchCost, bbl.PIM: c.PIM.FetchCost},
	)
}
