package reuse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"pimoffload/internal/bbl"
)

// ErrUnknownBlock means a segment names a block the stats inputs never saw.
var ErrUnknownBlock = errors.New("reuse segment references unknown block")

// Resolver maps the profiler's block number to a dense id.
type Resolver func(fileID uint64) (bbl.ID, bool)

// Identity resolves every number to the id of the same value.
func Identity(fileID uint64) (bbl.ID, bool) {
	return bbl.ID(fileID), true
}

// ReadSegments parses the reuse log at path into trie.
func ReadSegments(path string, trie *Trie, resolve Resolver) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening reuse log: %w", err)
	}
	defer f.Close()

	n, err := ParseSegments(f, trie, resolve)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// ParseSegments reads a reuse log:
//
//	================
//	<header>
//	<label> <index> <label> head=<id> count=<n> <member> <member> ...
//
// Tokens 0-2 are labels. Member lists may separate ids with commas. It
// returns the number of records read, including the ones Update discards.
func ParseSegments(r io.Reader, trie *Trie, resolve Resolver) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	records := 0

	for sc.Scan() {
		lineNo++
		line := sc.Text()

		switch {
		case lineNo == 1:
			if !bbl.IsRule(line) {
				return records, fmt.Errorf("line %d: expected horizontal rule, got %q", lineNo, line)
			}
			continue
		case lineNo == 2:
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if bbl.IsRule(line) {
			break
		}

		seg, err := parseSegmentLine(line, resolve)
		if err != nil {
			return records, fmt.Errorf("line %d: %w", lineNo, err)
		}
		trie.Update(seg)
		records++
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("reading reuse log: %w", err)
	}
	if lineNo == 0 {
		return 0, fmt.Errorf("empty reuse log")
	}
	return records, nil
}

func parseSegmentLine(line string, resolve Resolver) (Segment, error) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	if len(fields) < 5 {
		return Segment{}, fmt.Errorf("expected at least 5 tokens, got %d", len(fields))
	}

	headNum, err := labeled(fields[3], "head")
	if err != nil {
		return Segment{}, err
	}
	count, err := labeled(fields[4], "count")
	if err != nil {
		return Segment{}, err
	}

	head, ok := resolve(headNum)
	if !ok {
		return Segment{}, fmt.Errorf("%w: head %d", ErrUnknownBlock, headNum)
	}
	seg := NewSegment(head, count)
	for _, tok := range fields[5:] {
		num, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return Segment{}, fmt.Errorf("member %q: %w", tok, err)
		}
		id, ok := resolve(num)
		if !ok {
			return Segment{}, fmt.Errorf("%w: member %d", ErrUnknownBlock, num)
		}
		seg.Insert(id)
	}
	return seg, nil
}

// labeled parses a "<name>=<uint>" token.
func labeled(tok, name string) (uint64, error) {
	val, ok := strings.CutPrefix(tok, name+"=")
	if !ok {
		return 0, fmt.Errorf("expected %s=<n>, got %q", name, tok)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", name, val, err)
	}
	return n, nil
}
