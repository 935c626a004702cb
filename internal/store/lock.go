package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// RecordLock represents an exclusive lock on a single persisted record.
// Locking is per-record so unrelated features/agents progress concurrently.
type RecordLock struct {
	lockFile *os.File
}

// Release releases the record lock. The lock file stays on disk: unlinking
// it would hand the lock to a waiter blocked on the old inode and a fresh
// acquirer of the recreated file at the same time.
func (l *RecordLock) Release() error {
	if l.lockFile == nil {
		return nil
	}
	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// AcquireLock acquires an exclusive flock for the record file at path.
// Blocking: racing invocations serialize on the same record instead of
// failing, since each holds the lock only for one read-modify-write.
func AcquireLock(path string) (*RecordLock, error) {
	lockPath := path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("locking %s: %w", lockPath, err)
	}

	return &RecordLock{lockFile: lockFile}, nil
}

// WriteAtomic persists data via write-to-temp plus rename so a crash
// mid-write never leaves a half-written record visible.
func WriteAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath) // Clean up on failure
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}

// RecoverInterruptedWrites handles .tmp files left from crashed writes.
func RecoverInterruptedWrites(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml.tmp") {
			continue
		}

		tmpPath := filepath.Join(dir, entry.Name())
		mainPath := strings.TrimSuffix(tmpPath, ".tmp")

		// Check if main file exists and is valid
		if _, err := os.Stat(mainPath); err == nil {
			// Main file exists, delete orphan temp
			os.Remove(tmpPath)
		} else {
			// Main file missing, promote temp
			os.Rename(tmpPath, mainPath)
		}
	}
	return nil
}
