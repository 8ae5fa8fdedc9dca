package engine

import "sync"

// PositionLocks serializes every writer of one position record: the
// reconciler's fill application, trail persistence, and the manual exit
// flag all take the same per-id mutex, so a concurrent fill can never be
// overwritten by a whole-record write made from a stale snapshot.
type PositionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPositionLocks creates an empty lock table.
func NewPositionLocks() *PositionLocks {
	return &PositionLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for one position id and returns its unlock.
func (l *PositionLocks) Lock(positionID string) func() {
	l.mu.Lock()
	m, ok := l.locks[positionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[positionID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
