//go:build windows

package monitor

import (
	"os"

	"golang.org/x/sys/windows"
)

// tryLock takes a non-blocking exclusive byte-range lock on byte 0, the
// closest Windows equivalent of flock(LOCK_EX | LOCK_NB).
func tryLock(f *os.File) error {
	ovl := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0, ovl)
}

func unlock(f *os.File) error {
	ovl := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ovl)
}
