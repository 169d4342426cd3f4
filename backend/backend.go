// Package backend defines the contract a bitfs image's backing store must
// satisfy. The host-filesystem open/truncate mechanics that implement it
// are a thin collaborator (spec.md §1); this package only names the
// interface the facade programs against, adapted from the teacher's own
// backend package.
package backend

import (
	"errors"
	"io"
	"io/fs"
)

var (
	// ErrIncorrectOpenMode is returned when a write is attempted against
	// a backend opened read-only.
	ErrIncorrectOpenMode = errors.New("bitfs/backend: file not open for write")

	// ErrNotSuitable is returned when the underlying fs.File does not
	// implement the access pattern requested of it.
	ErrNotSuitable = errors.New("bitfs/backend: backing file is not suitable")

	// ErrAlreadyOpen is returned when the image's advisory lock is held
	// by another opener (SPEC_FULL.md §5).
	ErrAlreadyOpen = errors.New("bitfs/backend: image already open elsewhere")
)

// File is the minimal read access a backing store must provide: standard
// fs.File semantics, plus random access and explicit seeking.
type File interface {
	fs.File
	io.ReaderAt
	io.Seeker
	io.Closer
}

// WritableFile additionally allows positioned writes, the access pattern
// every block write in this package uses.
type WritableFile interface {
	File
	io.WriterAt
	Truncate(size int64) error
}
