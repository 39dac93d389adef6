package cachegate

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is how often a contended lock is retried.
const lockRetryInterval = 100 * time.Millisecond

var _ Locker = (*FileLock)(nil)

// FileLock is a cross-process lock on path + ".lock".
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock creates a new file lock for the given path.
// The lock file will be created at path + ".lock".
func NewFileLock(path string) *FileLock {
	return &FileLock{
		lock: flock.New(path + ".lock"),
	}
}

// Lock acquires the file lock, retrying until ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.lock.Path(), err)
	}
	if !locked {
		return fmt.Errorf("acquire lock %s: timeout", l.lock.Path())
	}
	return nil
}

// Unlock releases the file lock.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
