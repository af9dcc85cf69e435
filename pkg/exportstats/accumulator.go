// Package exportstats holds the per-run error and statistics accumulator
// shared by ingestion, fetching and slice export.
package exportstats

import (
	"sort"
	"sync"
)

// Accumulator collects not-found ids, invalid tokens and duplicate counts
// for a single export run. It is safe for concurrent use.
type Accumulator struct {
	mu                sync.Mutex
	notFound          map[string]struct{}
	invalid           []string
	duplicates        int64
	failedToReadInput bool
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{notFound: make(map[string]struct{})}
}

// AddNotFound records ids that could not be resolved.
func (a *Accumulator) AddNotFound(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		a.notFound[id] = struct{}{}
	}
}

// AddInvalid records a token that failed identifier parsing. Every
// occurrence is counted.
func (a *Accumulator) AddInvalid(token string) {
	a.mu.Lock()
	a.invalid = append(a.invalid, token)
	a.mu.Unlock()
}

// AddDuplicates increases the duplicate count.
func (a *Accumulator) AddDuplicates(n int64) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.duplicates += n
	a.mu.Unlock()
}

// MarkFailedToReadInput flags that the input source could not be read.
func (a *Accumulator) MarkFailedToReadInput() {
	a.mu.Lock()
	a.failedToReadInput = true
	a.mu.Unlock()
}

// FailedToReadInput reports whether MarkFailedToReadInput was called.
func (a *Accumulator) FailedToReadInput() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failedToReadInput
}

// Statistics is an immutable copy of the accumulator state.
type Statistics struct {
	NotFound          []string
	Invalid           []string
	Duplicates        int64
	FailedToReadInput bool
}

// Snapshot copies the current state. NotFound is sorted.
func (a *Accumulator) Snapshot() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()

	notFound := make([]string, 0, len(a.notFound))
	for id := range a.notFound {
		notFound = append(notFound, id)
	}
	sort.Strings(notFound)

	return Statistics{
		NotFound:          notFound,
		Invalid:           append([]string(nil), a.invalid...),
		Duplicates:        a.duplicates,
		FailedToReadInput: a.failedToReadInput,
	}
}

// Rejected is the number of input entries dropped before slicing: invalid
// tokens and duplicates. Not-found ids and conversion failures are counted
// on the file units instead.
func (s Statistics) Rejected() int64 {
	return int64(len(s.Invalid)) + s.Duplicates
}
