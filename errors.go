package bitfs

import "errors"

// Sentinel errors surfaced by this package. Callers should use errors.Is,
// since internal plumbing wraps these with context via fmt.Errorf("%w").
var (
	// ErrIoFailure wraps a host I/O error encountered while touching the
	// backing image file.
	ErrIoFailure = errors.New("bitfs: host I/O failure")

	// ErrCorruptSuperblock means the superblock's checksum did not match
	// its contents on open.
	ErrCorruptSuperblock = errors.New("bitfs: corrupt superblock")

	// ErrChecksumMismatch means a directory or directory index record
	// failed its checksum check on read. Inode payloads carry no stored
	// checksum and are not checked.
	ErrChecksumMismatch = errors.New("bitfs: checksum mismatch")

	// ErrAlreadyExists means Init was called against an existing image
	// path, a directory path is already in the directory index, or a
	// file name is already present in a directory.
	ErrAlreadyExists = errors.New("bitfs: already exists")

	// ErrNotFound means a directory or file lookup missed.
	ErrNotFound = errors.New("bitfs: not found")

	// ErrCapacityExhausted means no free bit was found for a new inode:
	// every existing group's bitmap is full. Inode allocation does not
	// append a group to make room.
	ErrCapacityExhausted = errors.New("bitfs: capacity exhausted")

	// ErrFragmentationExhausted means more than INODE_MAX_REGION runs
	// would be required to satisfy an allocation.
	ErrFragmentationExhausted = errors.New("bitfs: fragmentation exhausted")

	// ErrInvalidArgument means a caller contract was violated: a data
	// length mismatch on an inline write, or an oversize inline payload.
	ErrInvalidArgument = errors.New("bitfs: invalid argument")

	// ErrAlreadyOpen is the ambient single-owner check: the image's
	// advisory lock is already held by another process. See SPEC_FULL.md
	// §5.
	ErrAlreadyOpen = errors.New("bitfs: image already open elsewhere")
)
