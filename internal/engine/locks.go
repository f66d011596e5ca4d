package engine

import "sync"

// accountLocks hands out one mutex per account ID. Entries are reference
// counted and dropped when the last holder unlocks, so the map only holds
// accounts with in-flight work.
type accountLocks struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[int64]*accountLock)}
}

// lock blocks until the caller holds the account's mutex and returns the
// matching unlock function.
func (l *accountLocks) lock(accountID int64) func() {
	l.mu.Lock()
	al, ok := l.locks[accountID]
	if !ok {
		al = &accountLock{}
		l.locks[accountID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, accountID)
		}
		l.mu.Unlock()
	}
}

// size returns the number of accounts with a held or awaited lock.
func (l *accountLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
