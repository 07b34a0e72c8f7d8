//go:build !unix

package storage

import (
	"context"
	"fmt"
	"os"
)

// acquireFileLock opens the lock file without an OS lock; only unix hosts
// get cross-process exclusion.
func acquireFileLock(ctx context.Context, path string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lockFile, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	return lockFile, nil
}

func releaseFileLock(lockFile *os.File) error {
	if lockFile == nil {
		return nil
	}
	return lockFile.Close()
}
