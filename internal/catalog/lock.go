package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/spx/internal/shared"
)

// Lock is the cross-run mutual exclusion for the data directory. Exactly one
// pipeline run (or history import) may hold it; a second invocation fails
// fast with ErrSyncRunning instead of blocking.
type Lock struct {
	path string
}

// AcquireLock atomically creates the lock file, recording the holder's pid
// and start time for operators to inspect.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		holder := describeHolder(path)
		return nil, fmt.Errorf("%w: %s", shared.ErrSyncRunning, holder)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "pid = %d\nstarted_at = %q\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

// BreakLock force-removes a lock file regardless of its holder. For operator
// use after a crash left the lock behind.
func BreakLock(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to break run lock: %w", err)
	}
	return nil
}

// LockHolderPID reads the pid recorded in a held lock, 0 when unreadable.
func LockHolderPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for line := range strings.Lines(string(data)) {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "pid = "); ok {
			pid, _ := strconv.Atoi(strings.TrimSpace(rest))
			return pid
		}
	}
	return 0
}

func describeHolder(path string) string {
	if pid := LockHolderPID(path); pid > 0 {
		return fmt.Sprintf("lock %s held by pid %d", path, pid)
	}
	return fmt.Sprintf("lock %s held", path)
}
