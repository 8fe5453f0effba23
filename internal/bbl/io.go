package bbl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// headerLines is the number of column-header lines after the opening rule.
const headerLines = 2

// IsRule reports whether line is a horizontal rule: at least three '=' or
// '-' characters and nothing else.
func IsRule(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return false
	}
	c := line[0]
	if c != '=' && c != '-' {
		return false
	}
	return strings.Count(line, string(c)) == len(line)
}

// ReadStats parses the stats file at path into agg under site.
func ReadStats(path string, site Site, agg *Aggregator) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s stats: %w", site, err)
	}
	defer f.Close()

	n, err := ParseStats(f, site, agg)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// ParseStats reads a stats table:
//
//	================
//	<header>
//	<header>
//	<BlockID> <ElapsedTimeNs> <InstructionCount> <MemoryAccessCount> <HashHi> <HashLo> [<ThreadID>]
//
// Lines for the same hash are merged. A second rule ends the table. Any
// malformed line is an error; a partial cost model is worse than none.
// It returns the number of data lines consumed.
func ParseStats(r io.Reader, site Site, agg *Aggregator) (int, error) {
	sc := bufio.NewScanner(r)
	lineNo := 0
	rows := 0

	for sc.Scan() {
		lineNo++
		line := sc.Text()

		switch {
		case lineNo == 1:
			if !IsRule(line) {
				return rows, fmt.Errorf("line %d: expected horizontal rule, got %q", lineNo, line)
			}
			continue
		case lineNo <= 1+headerLines:
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if IsRule(line) {
			break
		}

		fileID, h, s, thread, err := parseStatsLine(line)
		if err != nil {
			return rows, fmt.Errorf("line %d: %w", lineNo, err)
		}
		var id ID
		if thread >= 0 {
			id = agg.RecordThread(h, site, thread, s)
		} else {
			id = agg.Record(h, site, s)
		}
		if err := agg.Alias(site, fileID, id); err != nil {
			return rows, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rows++
	}
	if err := sc.Err(); err != nil {
		return rows, fmt.Errorf("reading stats: %w", err)
	}
	if lineNo == 0 {
		return 0, fmt.Errorf("empty stats file")
	}
	return rows, nil
}

// parseStatsLine returns thread = -1 when the optional thread column is absent.
func parseStatsLine(line string) (uint64, Hash, Stats, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 && len(fields) != 7 {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("expected 6 or 7 fields, got %d", len(fields))
	}

	// fields[0] is the profiler's own block number; the hash is the identity.
	fileID, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("block id %q: %w", fields[0], err)
	}
	elapsed, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("elapsed time %q: %w", fields[1], err)
	}
	instr, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("instruction count %q: %w", fields[2], err)
	}
	mem, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("memory access count %q: %w", fields[3], err)
	}
	hi, err := parseHex(fields[4])
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("hash hi %q: %w", fields[4], err)
	}
	lo, err := parseHex(fields[5])
	if err != nil {
		return 0, Hash{}, Stats{}, 0, fmt.Errorf("hash lo %q: %w", fields[5], err)
	}

	thread := -1
	if len(fields) == 7 {
		t, err := strconv.Atoi(fields[6])
		if err != nil || t < 0 {
			return 0, Hash{}, Stats{}, 0, fmt.Errorf("thread id %q: invalid", fields[6])
		}
		thread = t
	}

	return fileID, Hash{Hi: hi, Lo: lo}, Stats{
		ElapsedTime:       elapsed,
		InstructionCount:  instr,
		MemoryAccessCount: mem,
	}, thread, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}
