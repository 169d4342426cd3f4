package bitfs

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/bitfs/go-bitfs/util/checksum"
)

// DirectoryIndex is the root mapping path -> directory-inode address. It
// lives as the data of the inode at rootInodeAddress and is the only way
// a directory is found by path (spec.md §4.4).
type DirectoryIndex struct {
	directories map[string]uint32
}

// newDirectoryIndex returns an empty directory index.
func newDirectoryIndex() *DirectoryIndex {
	return &DirectoryIndex{directories: make(map[string]uint32)}
}

// FindDir looks up a directory's inode address by path.
func (di *DirectoryIndex) FindDir(path string) (addr uint32, ok bool) {
	addr, ok = di.directories[path]
	return addr, ok
}

// CreateDir inserts path -> addr if path is not already present. It
// returns ok=false without modifying the index if path already exists;
// the caller is responsible for releasing any inode it speculatively
// allocated (spec.md §7).
func (di *DirectoryIndex) CreateDir(path string, addr uint32) (ok bool) {
	if _, exists := di.directories[path]; exists {
		return false
	}
	di.directories[path] = addr
	return true
}

// MoveDir renames from to to, succeeding only when from exists and to
// does not.
func (di *DirectoryIndex) MoveDir(from, to string) error {
	addr, ok := di.directories[from]
	if !ok {
		return fmt.Errorf("%w: directory %q", ErrNotFound, from)
	}
	if _, exists := di.directories[to]; exists {
		return fmt.Errorf("%w: directory %q", ErrAlreadyExists, to)
	}
	delete(di.directories, from)
	di.directories[to] = addr
	return nil
}

// Paths returns every directory path in the index, sorted.
func (di *DirectoryIndex) Paths() []string {
	paths := make([]string, 0, len(di.directories))
	for p := range di.directories {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (di *DirectoryIndex) serialize() []byte {
	return serializeOrderedMap(di.directories)
}

// deserializeDirectoryIndex decodes a directory index record and verifies
// its trailing checksum.
func deserializeDirectoryIndex(b []byte) (*DirectoryIndex, error) {
	m, err := deserializeOrderedMap(b)
	if err != nil {
		return nil, err
	}
	return &DirectoryIndex{directories: m}, nil
}

// Directory holds one directory's contents: filename -> file-inode
// address. Paths have no segment semantics here (spec.md §4.4): the whole
// path given to the facade is a single opaque key into DirectoryIndex, and
// a Directory's keys are plain filenames with no further hierarchy.
type Directory struct {
	files map[string]uint32
}

// newDirectory returns an empty directory.
func newDirectory() *Directory {
	return &Directory{files: make(map[string]uint32)}
}

// GetFile looks up a file's inode address by name.
func (d *Directory) GetFile(name string) (addr uint32, ok bool) {
	addr, ok = d.files[name]
	return addr, ok
}

// AddFile inserts name -> addr, failing with ErrAlreadyExists if name is
// already present.
func (d *Directory) AddFile(name string, addr uint32) error {
	if _, exists := d.files[name]; exists {
		return fmt.Errorf("%w: file %q", ErrAlreadyExists, name)
	}
	d.files[name] = addr
	return nil
}

// RemoveFile deletes name, failing with ErrNotFound if absent.
func (d *Directory) RemoveFile(name string) error {
	if _, exists := d.files[name]; !exists {
		return fmt.Errorf("%w: file %q", ErrNotFound, name)
	}
	delete(d.files, name)
	return nil
}

// Names returns every filename in the directory, sorted.
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.files))
	for n := range d.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *Directory) serialize() []byte {
	return serializeOrderedMap(d.files)
}

// deserializeDirectory decodes a directory record and verifies its
// trailing checksum.
func deserializeDirectory(b []byte) (*Directory, error) {
	m, err := deserializeOrderedMap(b)
	if err != nil {
		return nil, err
	}
	return &Directory{files: m}, nil
}

// serializeOrderedMap encodes m as a length-prefixed sequence of
// key/value pairs, keys in sorted byte order, followed by a u32 CRC32
// checksum over the sequence (spec.md §6). Go has no ordered map type;
// sorting the keys before encoding is how this package gets the "keys in
// sorted byte order" on-disk contract out of a plain map[string]uint32.
func serializeOrderedMap(m map[string]uint32) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 16*len(keys)+12)
	var tmp [8]byte

	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}

	putU64(uint64(len(keys)))
	for _, k := range keys {
		putU64(uint64(len(k)))
		buf = append(buf, k...)
		putU32(m[k])
	}

	sum := checksum.Of(buf)
	putU32(sum)

	return buf
}

// deserializeOrderedMap is the inverse of serializeOrderedMap, returning
// ErrChecksumMismatch if the trailing checksum does not verify.
func deserializeOrderedMap(b []byte) (map[string]uint32, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: ordered map record truncated", ErrIoFailure)
	}
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: ordered map record missing checksum", ErrIoFailure)
	}

	body := b[:len(b)-4]
	wantChecksum := binary.LittleEndian.Uint32(b[len(b)-4:])
	if got := checksum.Of(body); got != wantChecksum {
		return nil, fmt.Errorf("%w: checksum %08x != stored %08x", ErrChecksumMismatch, got, wantChecksum)
	}

	off := 0
	readU32 := func() (uint32, error) {
		if off+4 > len(body) {
			return 0, fmt.Errorf("%w: truncated while reading value", ErrIoFailure)
		}
		v := binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if off+8 > len(body) {
			return 0, fmt.Errorf("%w: truncated while reading length prefix", ErrIoFailure)
		}
		v := binary.LittleEndian.Uint64(body[off : off+8])
		off += 8
		return v, nil
	}

	count, err := readU64()
	if err != nil {
		return nil, err
	}

	m := make(map[string]uint32, count)
	for i := uint64(0); i < count; i++ {
		klen, err := readU64()
		if err != nil {
			return nil, err
		}
		if off+int(klen) > len(body) {
			return nil, fmt.Errorf("%w: truncated while reading key", ErrIoFailure)
		}
		key := string(body[off : off+int(klen)])
		off += int(klen)

		val, err := readU32()
		if err != nil {
			return nil, err
		}
		m[key] = val
	}

	return m, nil
}
