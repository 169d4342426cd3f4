// Package file is the local-file backend.WritableFile implementation: the
// image lives as a single regular host file, opened exclusively for
// create, read/write for reuse, and advisory-locked against a second
// opener for the lifetime of the process (SPEC_FULL.md §5).
package file

import (
	"errors"
	"fmt"
	"os"

	"github.com/bitfs/go-bitfs/backend"
)

// Backend wraps a single host *os.File as a backend.WritableFile, plus
// the advisory lock acquired for it.
type Backend struct {
	f      *os.File
	locked bool
}

var _ backend.WritableFile = (*Backend)(nil)

// Create opens path exclusively, failing if it already exists, the
// host-file contract Init relies on (spec.md §4.7).
func Create(path string) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, err
		}
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	b := &Backend{f: f}
	if err := b.lock(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return b, nil
}

// Open opens an existing path read/write, the host-file contract Open
// relies on (spec.md §4.7).
func Open(path string) (*Backend, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	b := &Backend{f: f}
	if err := b.lock(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Stat() (os.FileInfo, error) { return b.f.Stat() }
func (b *Backend) Read(p []byte) (int, error) { return b.f.Read(p) }

func (b *Backend) ReadAt(p []byte, off int64) (int, error)  { return b.f.ReadAt(p, off) }
func (b *Backend) WriteAt(p []byte, off int64) (int, error) { return b.f.WriteAt(p, off) }
func (b *Backend) Seek(offset int64, whence int) (int64, error) {
	return b.f.Seek(offset, whence)
}

// Truncate sets the host file's length, the mechanism behind §4.7's
// truncate-to-fit: the image file only ever grows.
func (b *Backend) Truncate(size int64) error {
	return b.f.Truncate(size)
}

// Close releases the advisory lock and the file handle (the "scoped
// acquisition" §5 describes).
func (b *Backend) Close() error {
	if b.locked {
		unlock(b.f)
	}
	return b.f.Close()
}

func (b *Backend) lock() error {
	if err := tryLock(b.f); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrAlreadyOpen, err)
	}
	b.locked = true
	return nil
}
