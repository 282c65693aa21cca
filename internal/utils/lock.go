package utils

import (
	"fmt"

	"github.com/gofrs/flock"
)

// OutputLock is an advisory, process-wide file lock guarding a single
// output path so two engine instances never stage into or merge onto the
// same destination concurrently (spec §5's sibling-job safety guarantee,
// extended across processes). Grounded on the teacher's cmd/lock.go single-
// instance lock, reused here per-download instead of process-wide.
type OutputLock struct {
	fl *flock.Flock
}

// AcquireOutputLock tries to take an exclusive, non-blocking lock on
// path+".lock". ok is false if another process already holds it.
func AcquireOutputLock(path string) (*OutputLock, bool, error) {
	fl := flock.New(path + ".lock")
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring output lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &OutputLock{fl: fl}, true, nil
}

// Release unlocks and removes the lock file's handle.
func (l *OutputLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
