package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pimoffload/internal/bbl"
	"pimoffload/internal/report"
	"pimoffload/internal/reuse"
	"pimoffload/internal/solver"
)

// options are the CLI flags shared by every mode.
type options struct {
	cpuFile    string // CPU-side stats
	pimFile    string // PIM-side stats
	reuseFile  string // reuse segment log (reuse and debug modes)
	reuseSite  string // whose block numbering the reuse log uses
	outputFile string // report destination
	configFile string // YAML cost config
	dotFile    string // trie visualization, defaults to <output>.dot
	render     bool   // also render the DOT file to PNG
	logLevel   string
}

var opts options

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "pimsolver <mode>",
	Short: "Decide which basic blocks to offload from the CPU to PIM",
	Long: `pimsolver reads per-block profiles of the same program on the CPU and on a
near-memory (PIM) core and picks an execution site for every basic block.

Modes:
  mpki   baseline strategies only (all-cpu, all-pim, greedy, mpki)
  reuse  baselines plus the reuse-aware batched search
  debug  as reuse, with per-batch logs and a reuse segment dump`,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("a mode is required: mpki, reuse or debug")
	},
}

func newModeCmd(mode solver.Mode, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			level, err := logrus.ParseLevel(opts.logLevel)
			if err != nil {
				logrus.Fatalf("Invalid log level: %s", opts.logLevel)
			}
			if mode == solver.ModeDebug && level < logrus.DebugLevel {
				level = logrus.DebugLevel
			}
			logrus.SetLevel(level)

			if err := solve(mode, opts, os.Stdout); err != nil {
				if errors.Is(err, bbl.ErrUniverseMismatch) || errors.Is(err, reuse.ErrUnknownBlock) {
					logrus.Fatalf("Internal invariant violated, inputs describe different runs: %v", err)
				}
				logrus.Fatalf("%v", err)
			}
		},
	}
	if mode.UsesReuse() {
		cmd.Flags().StringVar(&opts.reuseFile, "reuse", "", "Reuse segment log")
		cmd.Flags().StringVar(&opts.reuseSite, "reuse-site", "cpu", "Stats file whose block numbers the reuse log uses (cpu, pim)")
		cmd.Flags().StringVar(&opts.dotFile, "dot", "", "Graphviz output for the reuse trie (default <output>.dot)")
		cmd.Flags().BoolVar(&opts.render, "render", false, "Render the DOT file to PNG with Graphviz")
		_ = cmd.MarkFlagRequired("reuse")
	}
	return cmd
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.cpuFile, "cpu", "", "CPU-side stats file")
	pf.StringVar(&opts.pimFile, "pim", "", "PIM-side stats file")
	pf.StringVar(&opts.outputFile, "output", "", "Report output file")
	pf.StringVar(&opts.configFile, "config", "", "YAML cost configuration (defaults apply when omitted)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	for _, name := range []string{"cpu", "pim", "output"} {
		_ = rootCmd.MarkPersistentFlagRequired(name)
	}

	rootCmd.AddCommand(
		newModeCmd(solver.ModeMPKI, "Compare the baseline strategies"),
		newModeCmd(solver.ModeReuse, "Solve with the reuse-aware batched search"),
		newModeCmd(solver.ModeDebug, "Solve with the batched search and dump its internals"),
	)
}

func parseSite(s string) (bbl.Site, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return bbl.CPU, nil
	case "pim":
		return bbl.PIM, nil
	}
	return bbl.Invalid, fmt.Errorf("unknown site %q, want cpu or pim", s)
}

// solve runs one full pipeline: load, solve, report. stdout receives a copy
// of the report.
func solve(mode solver.Mode, o options, stdout io.Writer) error {
	cfg := solver.DefaultConfig()
	if o.configFile != "" {
		var err error
		if cfg, err = solver.LoadConfig(o.configFile); err != nil {
			return err
		}
	}

	agg := bbl.NewAggregator()
	for _, in := range []struct {
		site bbl.Site
		path string
	}{{bbl.CPU, o.cpuFile}, {bbl.PIM, o.pimFile}} {
		n, err := bbl.ReadStats(in.path, in.site, agg)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"site": in.site, "file": in.path, "rows": n}).Info("stats loaded")
	}

	snap, err := agg.Snapshot()
	if err != nil {
		return err
	}

	trie := reuse.NewTrie()
	if mode.UsesReuse() {
		site, err := parseSite(o.reuseSite)
		if err != nil {
			return err
		}
		resolve := func(n uint64) (bbl.ID, bool) { return agg.Resolve(site, n) }
		n, err := reuse.ReadSegments(o.reuseFile, trie, resolve)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"file":     o.reuseFile,
			"records":  n,
			"distinct": trie.NumLeaves(),
		}).Info("reuse log loaded")
	}

	model, err := solver.NewModel(snap, trie, cfg)
	if err != nil {
		return err
	}
	s, err := solver.New(model, cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}
	results, err := s.Solve(mode)
	if err != nil {
		return err
	}

	if err := writeReport(mode, o, results, model, stdout); err != nil {
		return err
	}
	if err := s.MarkReported(); err != nil {
		return err
	}

	if mode.UsesReuse() {
		return writeTrie(o, trie, results[len(results)-1].Decision)
	}
	return nil
}

func writeReport(mode solver.Mode, o options, results []solver.Result, m *solver.Model, stdout io.Writer) error {
	f, err := os.Create(o.outputFile)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	w := io.MultiWriter(f, stdout)

	h := report.Header{
		Mode:     mode,
		CPUFile:  o.cpuFile,
		PIMFile:  o.pimFile,
		ReuseLog: o.reuseFile,
		Blocks:   m.Len(),
		Segments: m.Trie.NumLeaves(),
	}
	if err := report.Write(w, h, results, m); err != nil {
		f.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	if mode == solver.ModeDebug {
		if err := report.WriteSegments(w, m.Trie); err != nil {
			f.Close()
			return fmt.Errorf("writing report: %w", err)
		}
	}
	return f.Close()
}

func writeTrie(o options, trie *reuse.Trie, decision bbl.Decision) error {
	dot := o.dotFile
	if dot == "" {
		dot = o.outputFile + ".dot"
	}
	if err := reuse.WriteDOTFile(dot, trie, decision); err != nil {
		return err
	}
	logrus.WithField("file", dot).Info("reuse trie written")

	if o.render {
		png := strings.TrimSuffix(dot, ".dot") + ".png"
		if err := reuse.RenderPNG(dot, png); err != nil {
			logrus.Warnf("Could not render PNG: %v (try: dot -Tpng %s -o %s)", err, dot, png)
		}
	}
	return nil
}
