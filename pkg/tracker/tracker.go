package tracker

import (
	"fmt"
	"sync"

	"github.com/quarrylabs/quarry/pkg/metrics"
)

// Tracker counts in-flight readers per snapshot path. The cleanup manager
// consults it before deleting anything; readers bracket every index open
// with Increment/Decrement.
type Tracker struct {
	mu   sync.Mutex
	refs map[string]int
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{
		refs: make(map[string]int),
	}
}

// Increment registers a new reader against a path
func (t *Tracker) Increment(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refs[path]++
	metrics.QueryRefsActive.Inc()
}

// Decrement releases a reader. A decrement without a matching increment is a
// programmer error and panics.
func (t *Tracker) Decrement(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.refs[path]
	if !ok || n <= 0 {
		panic(fmt.Sprintf("tracker: decrement without increment for %s", path))
	}

	if n == 1 {
		delete(t.refs, path)
	} else {
		t.refs[path] = n - 1
	}
	metrics.QueryRefsActive.Dec()
}

// RefCount returns the current reader count for a path
func (t *Tracker) RefCount(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refs[path]
}

// ActivePaths returns a snapshot of every path with at least one reader
func (t *Tracker) ActivePaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := make([]string, 0, len(t.refs))
	for p := range t.refs {
		paths = append(paths, p)
	}
	return paths
}
