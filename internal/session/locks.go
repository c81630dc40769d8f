package session

import "sync"

// lockTable hands out one mutex per game. Entries are created on first
// use and removed once the game finishes.
type lockTable struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[int64]*sync.Mutex)}
}

// tryAcquire returns a release func, or false when another call already
// holds the game.
func (t *lockTable) tryAcquire(gameID int64) (func(), bool) {
	t.mu.Lock()
	l, ok := t.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[gameID] = l
	}
	t.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}

func (t *lockTable) forget(gameID int64) {
	t.mu.Lock()
	delete(t.locks, gameID)
	t.mu.Unlock()
}
