//go:build unix

package monitor

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking advisory exclusive lock. A writer still
// holding the file makes this fail immediately.
func tryLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
