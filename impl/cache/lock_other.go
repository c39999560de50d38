//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package cache

import "sync"

// keyLocks serializes fetches within the process where flock is not available.
// Concurrent processes on such platforms are only protected by the atomic rename.
var keyLocks sync.Map

type keyLock struct {
	mu *sync.Mutex
}

func acquireKeyLock(lockPath string) (*keyLock, error) {
	mu, _ := keyLocks.LoadOrStore(lockPath, &sync.Mutex{})
	l := &keyLock{mu: mu.(*sync.Mutex)}
	l.mu.Lock()
	return l, nil
}

func (l *keyLock) release() {
	if l == nil || l.mu == nil {
		return
	}
	l.mu.Unlock()
	l.mu = nil
}

// isAlive cannot probe processes here, so no temp file is ever considered stale.
func isAlive(int) bool {
	return true
}
