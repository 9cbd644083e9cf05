package engine

import "sync"

// processLocks serializes engine work per process id. Different processes
// never contend; the map entry is reference-counted so idle ids do not
// accumulate.
type processLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newProcessLocks() *processLocks {
	return &processLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the per-process lock is held and returns the release
// function.
func (l *processLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.entries[id]
	if !ok {
		e = &lockEntry{}
		l.entries[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}
