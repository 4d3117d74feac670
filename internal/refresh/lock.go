package refresh

import (
	"fmt"

	"github.com/gofrs/flock"
)

// fileLock is a cross-process advisory lock guarding the shadow-copy
// refresh sequence, so two server instances sharing one database never
// swap in a shadow copy at the same time.
type fileLock struct {
	flock *flock.Flock
	path  string
}

func newFileLock(dbPath string) *fileLock {
	path := dbPath + ".lock"
	return &fileLock{flock: flock.New(path), path: path}
}

// TryLock attempts to acquire the lock without blocking. It returns false,
// nil (not an error) when another process already holds it.
func (l *fileLock) TryLock() (bool, error) {
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("refresh: acquire lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Unlock releases the lock. Safe to call even if TryLock never succeeded.
func (l *fileLock) Unlock() error {
	if !l.flock.Locked() {
		return nil
	}
	return l.flock.Unlock()
}
