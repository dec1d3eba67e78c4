package wallet

import (
	"sort"
	"sync"
)

// accountLocks serializes mutations per account. Locks are created lazily
// and never released back; the account population is small and stable.
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *accountLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// acquire locks every listed account, always in lexicographic ID order so
// two transfers moving money in opposite directions between the same pair
// cannot deadlock. The returned func releases in reverse order.
func (l *accountLocks) acquire(ids ...string) func() {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	acquired := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := l.get(id)
		m.Lock()
		acquired = append(acquired, m)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}
