package invest

import "sync"

// positionLocks serializes holding mutations per (user, asset) pair. Locks
// are created lazily and never released back; the position population is
// small and stable.
type positionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPositionLocks() *positionLocks {
	return &positionLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the (user, asset) position and returns the release func.
// Every plot of the same plant asset shares one lock.
func (l *positionLocks) acquire(userID, assetID string) func() {
	l.mu.Lock()
	key := userID + "/" + assetID
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
