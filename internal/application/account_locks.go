package application

import (
	"sync"

	"github.com/bnema/forwarder/internal/domain"
)

// accountLocks hands out one mutex per account, dropped once unused.
type accountLocks struct {
	mu    sync.Mutex
	locks map[domain.AccountID]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: map[domain.AccountID]*accountLock{}}
}

func (l *accountLocks) lock(id domain.AccountID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &accountLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
