package monitor

import (
	"context"
	"os"
	"time"
)

// Ready reports whether a detected file is safe to hand off: non-empty,
// not exclusively held by a writer, openable, and size-stable across a
// short wait. Writers that are still flushing fail one of these probes and
// get picked up on a later scan.
func Ready(ctx context.Context, path string, stableWait time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	if err := tryLock(f); err != nil {
		return false
	}
	defer func() { _ = unlock(f) }()

	var one [1]byte
	if _, err := f.Read(one[:]); err != nil {
		return false
	}

	timer := time.NewTimer(stableWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return false
	}

	again, err := os.Stat(path)
	if err != nil {
		return false
	}
	return again.Size() == info.Size()
}
