// Package bitfs implements a single-file, block-structured pseudo-
// filesystem: a hierarchy of named files stored inside one host-backed
// image file, content obfuscated by a keystream derived from a caller
// secret, integrity protected by per-structure CRC32 checksums.
//
// This is not a general-purpose filesystem driver: it does not mount
// anywhere, has no concept of permissions or symlinks, and is built for
// a single logical owner at a time (see SPEC_FULL.md §5). Use Init to
// create a new image and Open to reopen an existing one; both return a
// *FileSystem that owns the backing file for its lifetime — call Close
// when done with it.
package bitfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bitfs/go-bitfs/backend"
	bfile "github.com/bitfs/go-bitfs/backend/file"
	"github.com/bitfs/go-bitfs/util/timestamp"
)

// FileSystem is the facade: it exclusively owns the image handle, the
// in-memory group vector, the superblock, and the keystream (spec.md §3
// "Ownership"). Directory and inode values are transient — loaded,
// mutated, written back.
type FileSystem struct {
	backend    backend.WritableFile
	superblock *Superblock
	groups     []*Group
	keystream  *Keystream
	log        *logrus.Entry
}

// Init creates a new image at path and a fresh, empty filesystem inside
// it. It fails if path already exists (spec.md §4.7).
func Init(path, secret string) (*FileSystem, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", ErrInvalidArgument)
	}

	b, err := bfile.Create(path)
	if err != nil {
		return nil, wrapOpenErr(err)
	}

	fs := &FileSystem{
		backend:    b,
		superblock: newSuperblock(),
		keystream:  NewKeystream([]byte(secret), blockSize),
		log:        newSessionLogger(path),
	}
	fs.log.Info("initialising image")

	group := newGroup()
	group.ForceAllocateAt(0) // reserve the root inode's bit

	if err := fs.addGroup(group); err != nil {
		_ = fs.backend.Close()
		return nil, err
	}

	if err := fs.initDirectoryIndex(); err != nil {
		_ = fs.backend.Close()
		return nil, err
	}

	return fs, nil
}

// Open reopens an existing image at path, loading its superblock and
// every group's bitmap (spec.md §4.7).
func Open(path, secret string) (*FileSystem, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: secret must not be empty", ErrInvalidArgument)
	}

	b, err := bfile.Open(path)
	if err != nil {
		return nil, wrapOpenErr(err)
	}

	sbBytes := make([]byte, blockSize)
	if _, err := b.ReadAt(sbBytes, 0); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("%w: reading superblock: %v", ErrIoFailure, err)
	}
	superblock, err := deserializeSuperblock(sbBytes)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	fs := &FileSystem{
		backend:    b,
		superblock: superblock,
		keystream:  NewKeystream([]byte(secret), blockSize),
		log:        newSessionLogger(path),
	}

	fs.groups = make([]*Group, superblock.GroupCount)
	for i := uint32(0); i < superblock.GroupCount; i++ {
		buf := make([]byte, blockSize)
		if _, err := b.ReadAt(buf, int64(groupSeekPosition(i))); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("%w: reading group %d: %v", ErrIoFailure, i, err)
		}
		fs.groups[i] = groupFromBytes(buf)
	}

	fs.log.WithField("groups", superblock.GroupCount).Info("opened image")
	return fs, nil
}

// Close releases the backing file handle. Every write already flushed
// before returning, so Close never has outstanding data to persist
// (spec.md §5 "scoped acquisition").
func (fs *FileSystem) Close() error {
	return fs.backend.Close()
}

// Info returns the current superblock, the source for the `fsinfo`
// command.
func (fs *FileSystem) Info() *Superblock {
	return fs.superblock
}

// wrapOpenErr turns a backend open failure into the package sentinel
// that best describes it.
func wrapOpenErr(err error) error {
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	}
	if errors.Is(err, backend.ErrAlreadyOpen) {
		return fmt.Errorf("%w: %v", ErrAlreadyOpen, err)
	}
	return fmt.Errorf("%w: %v", ErrIoFailure, err)
}

func newSessionLogger(path string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"image":   path,
		"session": uuid.NewString(),
	})
}

// --- Directory index ---------------------------------------------------

func (fs *FileSystem) getDirectoryIndex() (*DirectoryIndex, error) {
	inode, err := fs.getInode(rootInodeAddress)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := fs.readInodeData(inode, &buf); err != nil {
		return nil, err
	}

	di, err := deserializeDirectoryIndex(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return di, nil
}

func (fs *FileSystem) saveDirectoryIndex(di *DirectoryIndex) error {
	inode, err := fs.getInode(rootInodeAddress)
	if err != nil {
		return err
	}
	data := di.serialize()
	return fs.writeInodeData(inode, bytes.NewReader(data), uint64(len(data)))
}

func (fs *FileSystem) initDirectoryIndex() error {
	di := newDirectoryIndex()
	inode := newInode(rootInodeAddress)
	if err := fs.saveInode(inode); err != nil {
		return err
	}
	data := di.serialize()
	return fs.writeInodeData(inode, bytes.NewReader(data), uint64(len(data)))
}

// --- Directories ---------------------------------------------------------

// ListDirectories returns every directory path currently in the index,
// the `lsdir` command's data source.
func (fs *FileSystem) ListDirectories() ([]string, error) {
	di, err := fs.getDirectoryIndex()
	if err != nil {
		return nil, err
	}
	return di.Paths(), nil
}

// findDirectory looks up a directory by path, returning its deserialised
// contents and its own inode address.
func (fs *FileSystem) findDirectory(path string) (*Directory, uint32, error) {
	di, err := fs.getDirectoryIndex()
	if err != nil {
		return nil, 0, err
	}

	addr, ok := di.FindDir(path)
	if !ok {
		return nil, 0, fmt.Errorf("%w: directory %q", ErrNotFound, path)
	}

	inode, err := fs.getInode(addr)
	if err != nil {
		return nil, 0, err
	}

	var buf bytes.Buffer
	if _, err := fs.readInodeData(inode, &buf); err != nil {
		return nil, 0, err
	}

	dir, err := deserializeDirectory(buf.Bytes())
	if err != nil {
		return nil, 0, err
	}
	return dir, addr, nil
}

func (fs *FileSystem) saveDirectory(dir *Directory, addr uint32) error {
	inode, err := fs.getInode(addr)
	if err != nil {
		return err
	}
	data := dir.serialize()
	return fs.writeInodeData(inode, bytes.NewReader(data), uint64(len(data)))
}

// CreateDirectory creates an empty directory at path and returns it. If
// path already exists in the index, the speculatively allocated inode bit
// is released before returning ErrAlreadyExists (spec.md §7).
func (fs *FileSystem) CreateDirectory(path string) (*Directory, error) {
	di, err := fs.getDirectoryIndex()
	if err != nil {
		return nil, err
	}

	dirInode, err := fs.allocateInode()
	if err != nil {
		return nil, err
	}

	if !di.CreateDir(path, dirInode.BlockIndex) {
		if relErr := fs.releaseInode(dirInode.BlockIndex); relErr != nil {
			fs.log.WithError(relErr).Warn("failed to release speculative inode after duplicate directory")
		}
		return nil, fmt.Errorf("%w: directory %q", ErrAlreadyExists, path)
	}

	if err := fs.saveDirectoryIndex(di); err != nil {
		return nil, err
	}

	dir := newDirectory()
	if err := fs.saveDirectory(dir, dirInode.BlockIndex); err != nil {
		return nil, err
	}

	if err := fs.saveSuperblock(); err != nil {
		return nil, err
	}

	fs.log.WithField("path", path).Info("created directory")
	return dir, nil
}

// MoveDir renames a directory in the index (supplemented feature — see
// SPEC_FULL.md "Supplemented features").
func (fs *FileSystem) MoveDir(from, to string) error {
	di, err := fs.getDirectoryIndex()
	if err != nil {
		return err
	}
	if err := di.MoveDir(from, to); err != nil {
		return err
	}
	return fs.saveDirectoryIndex(di)
}

// ListDir returns the filenames stored in the directory at path, the `ls`
// command's data source.
func (fs *FileSystem) ListDir(path string) ([]string, error) {
	dir, _, err := fs.findDirectory(path)
	if err != nil {
		return nil, err
	}
	return dir.Names(), nil
}

// --- Files ---------------------------------------------------------------

// GetFileInfo returns the inode metadata for a file, the `fileinfo`
// command's data source.
func (fs *FileSystem) GetFileInfo(dir, name string) (*Inode, error) {
	d, _, err := fs.findDirectory(dir)
	if err != nil {
		return nil, err
	}
	addr, ok := d.GetFile(name)
	if !ok {
		return nil, fmt.Errorf("%w: file %q in %q", ErrNotFound, name, dir)
	}
	return fs.getInode(addr)
}

// AddFile stores dataLen bytes read from data as name inside dir. dir must
// already exist; ErrNotFound is returned otherwise. Re-adding an existing
// name overwrites its content (see Inode write path contracts in
// SPEC_FULL.md §4.3).
func (fs *FileSystem) AddFile(dir, name string, data io.Reader, dataLen uint64) error {
	d, dirAddr, err := fs.findDirectory(dir)
	if err != nil {
		return err
	}

	fileAddr, existed := d.GetFile(name)
	var fileInode *Inode
	if existed {
		fileInode, err = fs.getInode(fileAddr)
		if err != nil {
			return err
		}
	} else {
		fileInode, err = fs.allocateInode()
		if err != nil {
			return err
		}
		if err := d.AddFile(name, fileInode.BlockIndex); err != nil {
			if relErr := fs.releaseInode(fileInode.BlockIndex); relErr != nil {
				fs.log.WithError(relErr).Warn("failed to release speculative inode after add-file failure")
			}
			return err
		}
		if err := fs.saveDirectory(d, dirAddr); err != nil {
			return err
		}
		fs.superblock.FileCount++
	}

	if err := fs.writeInodeData(fileInode, data, dataLen); err != nil {
		return err
	}

	if err := fs.saveSuperblock(); err != nil {
		return err
	}

	fs.log.WithFields(logrus.Fields{"dir": dir, "name": name, "size": dataLen}).Info("wrote file")
	return nil
}

// RemoveFile deletes name from dir, releasing its inode (and any external
// data regions it references).
func (fs *FileSystem) RemoveFile(dir, name string) error {
	d, dirAddr, err := fs.findDirectory(dir)
	if err != nil {
		return err
	}

	addr, ok := d.GetFile(name)
	if !ok {
		return fmt.Errorf("%w: file %q in %q", ErrNotFound, name, dir)
	}

	if err := fs.releaseInode(addr); err != nil {
		return err
	}

	if err := d.RemoveFile(name); err != nil {
		return err
	}
	if err := fs.saveDirectory(d, dirAddr); err != nil {
		return err
	}

	fs.superblock.FileCount--
	if err := fs.saveSuperblock(); err != nil {
		return err
	}

	fs.log.WithFields(logrus.Fields{"dir": dir, "name": name}).Info("removed file")
	return nil
}

// GetFileData reads a file's decoded content into w and returns a CRC32
// of the decoded payload. This matches the original's read path (spec.md
// §4.3), which computes but never persists this checksum (Open Question
// #2).
func (fs *FileSystem) GetFileData(dir, name string, w io.Writer) (uint32, error) {
	d, _, err := fs.findDirectory(dir)
	if err != nil {
		return 0, err
	}
	addr, ok := d.GetFile(name)
	if !ok {
		return 0, fmt.Errorf("%w: file %q in %q", ErrNotFound, name, dir)
	}
	inode, err := fs.getInode(addr)
	if err != nil {
		return 0, err
	}
	return fs.readInodeData(inode, w)
}

// --- Superblock / group bookkeeping --------------------------------------

func (fs *FileSystem) superblockCheck() {
	fs.superblock.GroupCount = uint32(len(fs.groups))

	var free, total uint32
	for _, g := range fs.groups {
		free += uint32(g.CountZeros())
		total += uint32(g.TotalDataBlocks())
	}
	fs.superblock.FreeBlocks = free
	fs.superblock.BlockCount = total
	fs.superblock.Modified = timestamp.Now()
}

func (fs *FileSystem) saveSuperblock() error {
	fs.superblockCheck()
	data := fs.superblock.serialize()
	if _, err := fs.backend.WriteAt(data, 0); err != nil {
		return fmt.Errorf("%w: writing superblock: %v", ErrIoFailure, err)
	}
	return nil
}

func (fs *FileSystem) saveGroup(index uint32) error {
	data := fs.groups[index].serialize()
	if _, err := fs.backend.WriteAt(data, int64(groupSeekPosition(index))); err != nil {
		return fmt.Errorf("%w: writing group %d: %v", ErrIoFailure, index, err)
	}
	return nil
}

// addGroup appends a new group, persists it, bumps the superblock's group
// count, grows the host file to match, and persists the superblock.
func (fs *FileSystem) addGroup(group *Group) error {
	fs.groups = append(fs.groups, group)
	if err := fs.saveGroup(uint32(len(fs.groups) - 1)); err != nil {
		return err
	}
	fs.superblock.GroupCount++
	if err := fs.truncateToFit(); err != nil {
		return err
	}
	return fs.saveSuperblock()
}

// truncateToFit grows the host file to cover every group currently held
// in memory. The image file only ever grows (spec.md §4.7).
func (fs *FileSystem) truncateToFit() error {
	size := uint64(blockSize) + uint64(len(fs.groups))*(uint64(blockSize)+uint64(blocksPerGroup)*uint64(blockSize))
	if err := fs.backend.Truncate(int64(size)); err != nil {
		return fmt.Errorf("%w: truncating image: %v", ErrIoFailure, err)
	}
	return nil
}

// allocateInode finds and claims the first free inode bit across all
// groups in index order (first-fit across the image, spec.md §4.2),
// persisting the freshly claimed inode record. When every group is full it
// returns ErrCapacityExhausted; it does not append a new group.
func (fs *FileSystem) allocateInode() (*Inode, error) {
	for groupIndex, group := range fs.groups {
		addr, ok := group.AllocateOne(uint32(groupIndex))
		if !ok {
			continue
		}
		if err := fs.saveGroup(uint32(groupIndex)); err != nil {
			return nil, err
		}
		inode := newInode(addr)
		if err := fs.saveInode(inode); err != nil {
			return nil, err
		}
		return inode, nil
	}
	return nil, fmt.Errorf("%w: no free inode slot", ErrCapacityExhausted)
}

func (fs *FileSystem) releaseInodeData(regions []Region) error {
	touched := make(map[uint32]bool)
	for _, r := range regions {
		groupIndex, bit := translateAddress(r.Start)
		fs.groups[groupIndex].ReleaseRegion(bit, r.Length)
		touched[groupIndex] = true
	}
	for groupIndex := range touched {
		if err := fs.saveGroup(groupIndex); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileSystem) releaseInode(addr uint32) error {
	inode, err := fs.getInode(addr)
	if err != nil {
		return err
	}

	if inode.Regions != nil {
		if err := fs.releaseInodeData(inode.Regions); err != nil {
			return err
		}
	}

	groupIndex, bit := translateAddress(addr)
	fs.groups[groupIndex].ReleaseOne(bit)
	return fs.saveGroup(groupIndex)
}

// --- Inode I/O -------------------------------------------------------------

func (fs *FileSystem) getInode(addr uint32) (*Inode, error) {
	buf := make([]byte, blockSize)
	if _, err := fs.backend.ReadAt(buf, int64(addr)*blockSize); err != nil {
		return nil, fmt.Errorf("%w: reading inode %d: %v", ErrIoFailure, addr, err)
	}
	return deserializeInode(buf)
}

func (fs *FileSystem) saveInode(inode *Inode) error {
	inode.LastModified = timestamp.Now()
	data, err := inode.serialize()
	if err != nil {
		return err
	}
	if _, err := fs.backend.WriteAt(data, int64(inode.BlockIndex)*blockSize); err != nil {
		return fmt.Errorf("%w: writing inode %d: %v", ErrIoFailure, inode.BlockIndex, err)
	}
	return nil
}

// readInodeData streams an inode's decoded payload to w, decrypting each
// block (or the inline payload) with the keystream as it goes, and
// returns a CRC32 over the decoded bytes.
func (fs *FileSystem) readInodeData(inode *Inode, w io.Writer) (uint32, error) {
	cs := newChecksumReader()

	if inode.Regions == nil {
		buf := append([]byte(nil), inode.Inline...)
		fs.keystream.Encrypt(buf)
		cs.update(buf)
		if _, err := w.Write(buf); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
		}
		return cs.sum(), nil
	}

	remaining := inode.Size
	for _, r := range inode.Regions {
		for i := uint32(0); i < r.Length; i++ {
			blockAddr := r.Start + i
			n := blockSize
			if remaining < blockSize {
				n = int(remaining)
			}
			buf := make([]byte, n)
			if _, err := fs.backend.ReadAt(buf, int64(blockAddr)*blockSize); err != nil {
				return 0, fmt.Errorf("%w: reading block %d: %v", ErrIoFailure, blockAddr, err)
			}
			fs.keystream.Encrypt(buf)
			cs.update(buf)
			if _, err := w.Write(buf); err != nil {
				return 0, fmt.Errorf("%w: %v", ErrIoFailure, err)
			}
			remaining -= uint64(n)
		}
	}

	return cs.sum(), nil
}

// writeInodeData stores dataLen bytes read from data as inode's payload,
// choosing between the inline and external-regions representations per
// the inodeCapacity threshold (spec.md §4.3). Any previously-held external
// regions are released first so overwrites never leak blocks.
func (fs *FileSystem) writeInodeData(inode *Inode, data io.Reader, dataLen uint64) error {
	if inode.Regions != nil {
		if err := fs.releaseInodeData(inode.Regions); err != nil {
			return err
		}
	}

	if dataLen <= inodeCapacity {
		buf := make([]byte, dataLen)
		if _, err := io.ReadFull(data, buf); err != nil {
			return fmt.Errorf("%w: reading inline payload: %v", ErrIoFailure, err)
		}
		fs.keystream.Encrypt(buf)
		if err := inode.setInline(buf); err != nil {
			return err
		}
		return fs.saveInode(inode)
	}

	inode.Size = dataLen
	inode.Regions = nil // size set first; regions attached once allocated, matching the original's ordering
	if err := fs.saveInode(inode); err != nil {
		return err
	}

	regions, err := fs.allocateRegionsFor(dataLen)
	if err != nil {
		return err
	}

	inode.setRegions(regions, dataLen)
	if err := fs.saveInode(inode); err != nil {
		return err
	}

	remaining := dataLen
	for _, r := range regions {
		for i := uint32(0); i < r.Length; i++ {
			blockAddr := r.Start + i
			n := blockSize
			if remaining < blockSize {
				n = int(remaining)
			}
			buf := make([]byte, n)
			if _, err := io.ReadFull(data, buf); err != nil {
				return fmt.Errorf("%w: reading block payload: %v", ErrIoFailure, err)
			}
			fs.keystream.Encrypt(buf)
			if _, err := fs.backend.WriteAt(buf, int64(blockAddr)*blockSize); err != nil {
				return fmt.Errorf("%w: writing block %d: %v", ErrIoFailure, blockAddr, err)
			}
			remaining -= uint64(n)
		}
	}
	if remaining != 0 {
		return fmt.Errorf("%w: %d bytes unwritten after exhausting allocated regions", ErrIoFailure, remaining)
	}

	return nil
}

// allocateRegionsFor grows the image (appending groups) until it has
// enough free blocks for dataLen, then claims runs from each group in
// index order until the need is satisfied or the region budget
// (inodeMaxRegion) is exhausted. Each group is asked to allocate against
// the full inodeMaxRegion, matching spec.md's
// allocate_region(g, remaining, INODE_MAX_REGION) call exactly rather than
// a budget reduced by regions already claimed from earlier groups; the
// INODE_MAX_REGION invariant (spec.md invariant 7) is instead enforced
// once, globally, after every group has had a chance to contribute.
func (fs *FileSystem) allocateRegionsFor(dataLen uint64) ([]Region, error) {
	need := blocksNeeded(dataLen)

	for uint64(fs.superblock.FreeBlocks) < need {
		if err := fs.addGroup(newGroup()); err != nil {
			return nil, err
		}
	}

	var regions []Region
	remaining := int(need)
	for groupIndex := range fs.groups {
		if remaining == 0 || len(regions) >= inodeMaxRegion {
			break
		}
		ranges, left := fs.groups[groupIndex].AllocateRegion(uint32(groupIndex), remaining, inodeMaxRegion)
		if err := fs.saveGroup(uint32(groupIndex)); err != nil {
			return nil, err
		}
		for _, r := range ranges {
			regions = append(regions, Region{Start: r.start, Length: r.length})
		}
		remaining = left
	}

	if remaining != 0 || len(regions) > inodeMaxRegion {
		if err := fs.releaseInodeData(regions); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d blocks still needed after %d regions", ErrFragmentationExhausted, remaining, len(regions))
	}

	return regions, nil
}
