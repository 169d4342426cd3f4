//go:build !windows

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking advisory exclusive lock on f using
// flock(2), the mechanism behind the single-owner check in SPEC_FULL.md
// §5. It returns an error immediately if another process already holds
// the lock, rather than blocking.
func tryLock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

// unlock releases the advisory lock acquired by tryLock.
func unlock(f *os.File) {
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
