//go:build linux || darwin || freebsd || netbsd || openbsd

package cache

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// keyLock holds a blocking exclusive flock on the lock file of one cache key.
// The kernel releases the lock if the process dies, so an orphaned lock file
// never blocks anyone.
type keyLock struct {
	file *os.File
}

// acquireKeyLock opens (or creates) the lock file and blocks until it holds an
// exclusive flock on it.
func acquireKeyLock(lockPath string) (*keyLock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}
	return &keyLock{file: f}, nil
}

// release unlocks and closes the lock file. Safe to call more than once.
func (l *keyLock) release() {
	if l == nil || l.file == nil {
		return
	}
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		log.Debugf("flock unlock failed: %s", err)
	}
	if err := l.file.Close(); err != nil {
		log.Debugf("lock file close failed: %s", err)
	}
	l.file = nil
}

// isAlive reports whether a process with the passed pid exists. EPERM means it
// exists but belongs to another user.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
