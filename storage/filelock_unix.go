//go:build unix

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockRetryInterval is how often a contended lock is retried.
const lockRetryInterval = 50 * time.Millisecond

// acquireFileLock takes an exclusive flock on path, retrying until ctx ends.
func acquireFileLock(ctx context.Context, path string) (*os.File, error) {
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	for {
		err = unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return lockFile, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			lockFile.Close()
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}
		select {
		case <-ctx.Done():
			lockFile.Close()
			return nil, fmt.Errorf("store is locked by another process: %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

// releaseFileLock releases the lock. The lock file is left in place so
// concurrent openers always lock the same inode.
func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
	return lockFile.Close()
}
