package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	lockRetryDelay = 100 * time.Millisecond
	lockMaxRetries = 50
	lockStaleAfter = 30 * time.Second
)

// fileLock is an exclusive, cross-process lock held through a sibling
// "<path>.lock" file.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock blocks until the lock for filePath is held, the context
// ends, or lockMaxRetries attempts have failed. Locks older than
// lockStaleAfter are assumed abandoned and removed.
func acquireFileLock(ctx context.Context, filePath string) (*fileLock, error) {
	lockPath := filePath + ".lock"

	for i := 0; i < lockMaxRetries; i++ {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID is only there to help whoever finds a stuck lock.
			fmt.Fprintf(lockFile, "%d", os.Getpid())
			return &fileLock{lockFile: lockFile, lockPath: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > lockStaleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(lockMaxRetries)*lockRetryDelay,
	)
}

// release closes and removes the lock file. Calling it twice returns the
// removal error from the second call.
func (fl *fileLock) release() error {
	if fl.lockFile != nil {
		fl.lockFile.Close()
		fl.lockFile = nil
	}
	return os.Remove(fl.lockPath)
}
