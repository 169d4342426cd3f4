package bitfs

import (
	"encoding/binary"
	"fmt"

	"github.com/bitfs/go-bitfs/util/checksum"
	"github.com/bitfs/go-bitfs/util/timestamp"
)

// blockSize is B, fixed at 4096 bytes (spec.md §3).
const blockSize = 4096

// fsVersion is the on-disk format version this package writes and reads.
const fsVersion = 1

// magic is the 7-byte superblock signature.
var magic = [7]byte{0x2a, 0x62, 0x69, 0x74, 0x66, 0x73, 0x2a} // "*bitfs*"

// Superblock is the global header stored at block 0. It is the single
// source of truth for group/block/file accounting; in-memory copies held
// by FileSystem are caches rebuilt from it on Open.
type Superblock struct {
	FsVersion  uint32
	BlockSize  uint32
	GroupCount uint32
	BlockCount uint32
	FreeBlocks uint32
	FileCount  uint32
	Created    uint64
	Modified   uint64
}

// newSuperblock returns a fresh superblock for a just-initialised image.
func newSuperblock() *Superblock {
	now := timestamp.Now()
	return &Superblock{
		FsVersion:  fsVersion,
		BlockSize:  blockSize,
		GroupCount: 0,
		BlockCount: 1,
		FreeBlocks: 0,
		FileCount:  0,
		Created:    now,
		Modified:   now,
	}
}

// superblockRecordSize is the fixed size of a serialised superblock:
// 7 (magic) + 4*6 (u32 fields) + 8*2 (u64 fields) + 4 (checksum).
const superblockRecordSize = 7 + 4*6 + 8*2 + 4

// serialize encodes the superblock fields in the order spec.md §6
// mandates, followed by a checksum: the CRC32 of the bytes that precede it
// (magic through modified). The checksum field is not part of the hashed
// bytes, so this is not the CRC32 of the record with a zeroed checksum
// field.
func (s *Superblock) serialize() []byte {
	buf := make([]byte, 0, superblockRecordSize)
	buf = append(buf, magic[:]...)

	var tmp [8]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}

	putU32(s.FsVersion)
	putU32(s.BlockSize)
	putU32(s.GroupCount)
	putU32(s.BlockCount)
	putU32(s.FreeBlocks)
	putU32(s.FileCount)
	putU64(s.Created)
	putU64(s.Modified)

	sum := checksum.Of(buf)
	putU32(sum)

	return buf
}

// deserializeSuperblock decodes a superblock record and verifies its
// checksum, returning ErrCorruptSuperblock on mismatch.
func deserializeSuperblock(b []byte) (*Superblock, error) {
	if len(b) < superblockRecordSize {
		return nil, fmt.Errorf("%w: superblock record truncated", ErrIoFailure)
	}
	if string(b[0:7]) != string(magic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptSuperblock)
	}

	body := b[:superblockRecordSize-4]
	wantChecksum := binary.LittleEndian.Uint32(b[superblockRecordSize-4 : superblockRecordSize])
	if got := checksum.Of(body); got != wantChecksum {
		return nil, fmt.Errorf("%w: checksum %08x != stored %08x", ErrCorruptSuperblock, got, wantChecksum)
	}

	off := 7
	readU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(b[off : off+4])
		off += 4
		return v
	}
	readU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
		return v
	}

	s := &Superblock{}
	s.FsVersion = readU32()
	s.BlockSize = readU32()
	s.GroupCount = readU32()
	s.BlockCount = readU32()
	s.FreeBlocks = readU32()
	s.FileCount = readU32()
	s.Created = readU64()
	s.Modified = readU64()

	return s, nil
}

// String implements fmt.Stringer, used by the fsinfo CLI command.
func (s *Superblock) String() string {
	return fmt.Sprintf(
		"version=%d block_size=%d groups=%d blocks=%d free_blocks=%d files=%d created=%d modified=%d",
		s.FsVersion, s.BlockSize, s.GroupCount, s.BlockCount, s.FreeBlocks, s.FileCount, s.Created, s.Modified,
	)
}
