package tracker

import (
	"sort"
	"strings"
	"sync"
)

// Normalize canonicalizes a work item code: trimmed and uppercased. Codes
// are opaque, case-insensitive identifiers.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Tracker is the shared, cross-account register of work item state for one
// run. It holds three sets: the fixed universe of valid codes, the codes
// already processed to a terminal outcome (monotonically growing), and the
// codes searched but not located. A code is never in both processed and
// notFound: locating a code always wins over an earlier "not found".
//
// The pipeline mutates the tracker from a single goroutine, but the mutex
// keeps the invariants safe under Go's thread model regardless.
type Tracker struct {
	mu        sync.Mutex
	valid     map[string]struct{}
	processed map[string]struct{}
	notFound  map[string]struct{}
}

// New creates a tracker over the given universe. Codes are normalized and
// deduplicated; the universe never changes afterwards.
func New(universe []string) *Tracker {
	t := &Tracker{
		valid:     make(map[string]struct{}, len(universe)),
		processed: make(map[string]struct{}),
		notFound:  make(map[string]struct{}),
	}
	for _, code := range universe {
		if code = Normalize(code); code != "" {
			t.valid[code] = struct{}{}
		}
	}
	return t
}

// Candidates returns the codes still waiting for a terminal outcome, sorted
// for deterministic processing order. Each account's pass computes its
// candidate list once, at the start of its turn.
func (t *Tracker) Candidates() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidates := make([]string, 0, len(t.valid))
	for code := range t.valid {
		if _, done := t.processed[code]; !done {
			candidates = append(candidates, code)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// MarkProcessed records a terminal outcome for code and removes it from
// notFound if an earlier pass failed to locate it.
func (t *Tracker) MarkProcessed(code string) {
	code = Normalize(code)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed[code] = struct{}{}
	delete(t.notFound, code)
}

// MergeNotFound folds one account's local not-found list into the global
// set, excluding any code that has meanwhile been processed by another
// account.
func (t *Tracker) MergeNotFound(codes []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, code := range codes {
		code = Normalize(code)
		if _, done := t.processed[code]; done {
			continue
		}
		t.notFound[code] = struct{}{}
	}
}

// IsProcessed reports whether code already has a terminal outcome.
func (t *Tracker) IsProcessed(code string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, done := t.processed[Normalize(code)]
	return done
}

// Processed returns the processed set as a sorted slice.
func (t *Tracker) Processed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.processed)
}

// NotFound returns the not-found set as a sorted slice.
func (t *Tracker) NotFound() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.notFound)
}

// UniverseSize returns the number of valid codes for the run.
func (t *Tracker) UniverseSize() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.valid)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
