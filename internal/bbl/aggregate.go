package bbl

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrUniverseMismatch means the CPU and PIM block sets still differ after
// backfilling, i.e. the two inputs describe different program runs.
var ErrUniverseMismatch = errors.New("cpu and pim block universes disagree")

// Entry is one row of a sorted view.
type Entry struct {
	ID          ID
	Hash        Hash
	Stats       Stats
	Placeholder bool // zero-cost backfill, never observed on this site
}

type record struct {
	stats       Stats
	threads     *ThreadStats
	placeholder bool
}

func (r *record) value() Stats {
	s := r.stats
	if r.threads != nil {
		s.Merge(r.threads.Reduce())
	}
	return s
}

// Aggregator maps block hashes to dense ids and accumulates per-site stats
// across repeated observations of the same block.
//
// A single RWMutex guards everything. Adding a block or merging stats takes
// the write lock; reads take the read lock.
type Aggregator struct {
	mu     sync.RWMutex
	ids    map[Hash]ID
	hashes []Hash // indexed by ID
	sites  [NumSites][]*record
	files  [NumSites]map[uint64]ID // profiler block number -> id

	dirty  [NumSites]bool
	sorted [NumSites][]Entry
}

// NewAggregator returns an aggregator with GlobalID already reserved for
// GlobalHash, so tracked blocks are numbered from FirstID.
func NewAggregator() *Aggregator {
	a := &Aggregator{
		ids:    map[Hash]ID{GlobalHash: GlobalID},
		hashes: []Hash{GlobalHash},
	}
	for i := range a.dirty {
		a.dirty[i] = true
	}
	return a
}

// idLocked looks up or creates the id for h. Caller holds the write lock.
func (a *Aggregator) idLocked(h Hash) ID {
	if id, ok := a.ids[h]; ok {
		return id
	}
	id := ID(len(a.hashes))
	a.ids[h] = id
	a.hashes = append(a.hashes, h)
	return id
}

// recordLocked returns the record for (site, id), creating it if needed.
func (a *Aggregator) recordLocked(site Site, id ID) *record {
	recs := a.sites[site]
	for len(recs) <= int(id) {
		recs = append(recs, nil)
	}
	a.sites[site] = recs
	r := recs[id]
	if r == nil {
		r = &record{}
		recs[id] = r
	}
	r.placeholder = false
	a.dirty[site] = true
	return r
}

// Record merges s into the accumulator for (site, hash) and returns the
// block's id.
func (a *Aggregator) Record(h Hash, site Site, s Stats) ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.idLocked(h)
	a.recordLocked(site, id).stats.Merge(s)
	return id
}

// RecordThread is like Record but tracks elapsed time per thread, reducing
// with max instead of summing.
func (a *Aggregator) RecordThread(h Hash, site Site, thread int, s Stats) ID {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.idLocked(h)
	r := a.recordLocked(site, id)
	if r.threads == nil {
		r.threads = &ThreadStats{}
	}
	r.threads.Add(thread, s)
	return id
}

// Alias records that the profiler numbered block id as fileID in site's
// input. A number that already names a different block is an error.
func (a *Aggregator) Alias(site Site, fileID uint64, id ID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.files[site] == nil {
		a.files[site] = make(map[uint64]ID)
	}
	if prev, ok := a.files[site][fileID]; ok && prev != id {
		return fmt.Errorf("block number %d names both %s and %s",
			fileID, a.hashes[prev], a.hashes[id])
	}
	a.files[site][fileID] = id
	return nil
}

// Resolve maps a profiler block number from site's input to an id.
func (a *Aggregator) Resolve(site Site, fileID uint64) (ID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.files[site][fileID]
	return id, ok
}

// Lookup returns the id of h, if it has been seen.
func (a *Aggregator) Lookup(h Hash) (ID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.ids[h]
	return id, ok
}

// Len returns the number of distinct blocks, GLOBAL included.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.hashes)
}

// Backfill gives every block a zero-cost placeholder on any site where it was
// never observed.
func (a *Aggregator) Backfill() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.backfillLocked()
}

func (a *Aggregator) backfillLocked() {
	n := len(a.hashes)
	for _, site := range Sites {
		recs := a.sites[site]
		for len(recs) < n {
			recs = append(recs, nil)
		}
		for id, r := range recs {
			if r == nil {
				recs[id] = &record{placeholder: true}
				a.dirty[site] = true
			}
		}
		a.sites[site] = recs
	}
}

// SortedView returns the blocks known on site ordered by ascending hash. The
// view is cached until the next mutation; callers must not modify it.
func (a *Aggregator) SortedView(site Site) []Entry {
	a.mu.RLock()
	if !a.dirty[site] {
		v := a.sorted[site]
		a.mu.RUnlock()
		return v
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dirty[site] {
		a.sorted[site] = a.sortLocked(site)
		a.dirty[site] = false
	}
	return a.sorted[site]
}

func (a *Aggregator) sortLocked(site Site) []Entry {
	view := make([]Entry, 0, len(a.sites[site]))
	for id, r := range a.sites[site] {
		if r == nil {
			continue
		}
		view = append(view, Entry{
			ID:          ID(id),
			Hash:        a.hashes[id],
			Stats:       r.value(),
			Placeholder: r.placeholder,
		})
	}
	slices.SortFunc(view, func(x, y Entry) bool {
		return x.Hash.Less(y.Hash)
	})
	return view
}

// Snapshot is the read-only, fully aligned result of aggregation.
type Snapshot struct {
	Hashes      []Hash            // indexed by ID
	Stats       [NumSites][]Stats // indexed by site, then ID
	Placeholder [NumSites][]bool  // true where the stats are backfill
}

// Len returns the number of blocks in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.Hashes)
}

// Snapshot backfills both sites and returns per-id tables. It fails with
// ErrUniverseMismatch if the sites still disagree afterwards.
func (a *Aggregator) Snapshot() (*Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.backfillLocked()

	n := len(a.hashes)
	snap := &Snapshot{Hashes: make([]Hash, n)}
	copy(snap.Hashes, a.hashes)
	for _, site := range Sites {
		recs := a.sites[site]
		if len(recs) != n {
			return nil, fmt.Errorf("%w: %s has %d blocks, expected %d",
				ErrUniverseMismatch, site, len(recs), n)
		}
		snap.Stats[site] = make([]Stats, n)
		snap.Placeholder[site] = make([]bool, n)
		for id, r := range recs {
			if r == nil {
				return nil, fmt.Errorf("%w: block %d missing on %s", ErrUniverseMismatch, id, site)
			}
			snap.Stats[site][id] = r.value()
			snap.Placeholder[site][id] = r.placeholder
		}
	}
	return snap, nil
}
