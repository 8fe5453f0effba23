package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pimoffload/internal/reuse"
	"pimoffload/internal/solver"
)

const rule = "==========================================\n"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func testInputs(t *testing.T, segments string) options {
	t.Helper()
	dir := t.TempDir()
	header := rule + "BBLID Time(ns) Instruction MemoryAccess Hash(hi) Hash(lo)\n------\n"
	return options{
		cpuFile: writeFile(t, dir, "cpu.out", header+`0 500 100 0 0 0
1 100 1000 900 1 1
2 100 1000 10 2 2
`),
		pimFile: writeFile(t, dir, "pim.out", header+`0 500 100 0 0 0
1 10 1000 900 1 1
2 10 1000 10 2 2
`),
		reuseFile:  writeFile(t, dir, "reuse.out", rule+"DataReuseSegment\n"+segments),
		reuseSite:  "cpu",
		outputFile: filepath.Join(dir, "report.txt"),
	}
}

func TestSolve_MPKI(t *testing.T) {
	o := testInputs(t, "")
	o.reuseFile = ""

	var stdout bytes.Buffer
	require.NoError(t, solve(solver.ModeMPKI, o, &stdout))

	written, err := os.ReadFile(o.outputFile)
	require.NoError(t, err)
	require.Equal(t, stdout.String(), string(written))
	require.Contains(t, stdout.String(), "(mpki mode)")
	require.NotContains(t, stdout.String(), "Decision: reuse")

	_, err = os.Stat(o.outputFile + ".dot")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSolve_Reuse(t *testing.T) {
	o := testInputs(t, "seg 0 : head=1 count=3 1 2\n")

	var stdout bytes.Buffer
	require.NoError(t, solve(solver.ModeReuse, o, &stdout))
	require.Contains(t, stdout.String(), "Decision: reuse")
	require.Contains(t, stdout.String(), "blocks: 3  reuse segments: 1")

	dot, err := os.ReadFile(o.outputFile + ".dot")
	require.NoError(t, err)
	require.Contains(t, string(dot), "digraph")
}

func TestSolve_DebugDumpsSegments(t *testing.T) {
	o := testInputs(t, "seg 0 : head=2 count=1 2 1\n")
	o.dotFile = filepath.Join(t.TempDir(), "trie.dot")

	var stdout bytes.Buffer
	require.NoError(t, solve(solver.ModeDebug, o, &stdout))
	require.Contains(t, stdout.String(), "Reuse segments: 1 distinct")

	_, err := os.Stat(o.dotFile)
	require.NoError(t, err)
}

func TestSolve_Errors(t *testing.T) {
	t.Run("unknown block in reuse log", func(t *testing.T) {
		o := testInputs(t, "seg 0 : head=7 count=1 7\n")
		err := solve(solver.ModeReuse, o, &bytes.Buffer{})
		require.ErrorIs(t, err, reuse.ErrUnknownBlock)
	})

	t.Run("missing stats file", func(t *testing.T) {
		o := testInputs(t, "")
		o.pimFile = filepath.Join(t.TempDir(), "nope.out")
		err := solve(solver.ModeMPKI, o, &bytes.Buffer{})
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad config", func(t *testing.T) {
		o := testInputs(t, "")
		o.configFile = writeFile(t, t.TempDir(), "cost.yaml", "batch_size: 99\n")
		err := solve(solver.ModeMPKI, o, &bytes.Buffer{})
		require.ErrorIs(t, err, solver.ErrBatchSize)
	})

	t.Run("bad reuse site", func(t *testing.T) {
		o := testInputs(t, "")
		o.reuseSite = "gpu"
		err := solve(solver.ModeReuse, o, &bytes.Buffer{})
		require.ErrorContains(t, err, "unknown site")
	})
}
