//go:build windows

package file

import "os"

// tryLock is a no-op on platforms without flock(2) semantics exposed via
// golang.org/x/sys/unix. The single-owner guarantee degrades to the
// "undefined behaviour" spec.md §5 already documents for concurrent
// openers on those platforms.
func tryLock(f *os.File) error {
	return nil
}

// unlock is the no-op counterpart of tryLock.
func unlock(f *os.File) {}
