// Package fsadapter exposes one bitfs directory's read-only view through
// the standard io/fs interfaces: Open and Stat of the files in it, and
// ReadDir(".") to list them. The root "." itself cannot be opened or
// stat'ed, so code that starts from the root (io/fs.WalkDir,
// http.FileServer) fails against an Adapter. Adapted from the
// teacher's converter package, which does the same for its own
// filesystem.FileSystem implementations.
package fsadapter

import (
	"bytes"
	"io/fs"
	"path"
	"time"

	"github.com/bitfs/go-bitfs"
)

// Adapter wraps one directory of a *bitfs.FileSystem as an fs.FS. A given
// Adapter only ever sees the single directory it was built for, matching
// bitfs's flat (non-nested) directory model (spec.md §4.4).
type Adapter struct {
	fsys *bitfs.FileSystem
	dir  string
}

var (
	_ fs.FS        = (*Adapter)(nil)
	_ fs.ReadDirFS = (*Adapter)(nil)
	_ fs.StatFS    = (*Adapter)(nil)
)

// FS returns an fs.FS view over dir inside fsys.
func FS(fsys *bitfs.FileSystem, dir string) *Adapter {
	return &Adapter{fsys: fsys, dir: dir}
}

// Open reads name's full content into memory and returns it as an fs.File.
// bitfs has no partial-read path, so Open always buffers the whole
// payload up front.
func (a *Adapter) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	info, err := a.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	var buf bytes.Buffer
	if _, err := a.fsys.GetFileData(a.dir, name, &buf); err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	return &openFile{info: info, r: bytes.NewReader(buf.Bytes())}, nil
}

// Stat returns file metadata without reading its content.
func (a *Adapter) Stat(name string) (fs.FileInfo, error) {
	info, err := a.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

func (a *Adapter) stat(name string) (*fileInfo, error) {
	inode, err := a.fsys.GetFileInfo(a.dir, name)
	if err != nil {
		return nil, err
	}
	return &fileInfo{
		name:    path.Base(name),
		size:    int64(inode.Size),
		modTime: time.Unix(int64(inode.LastModified), 0).UTC(),
	}, nil
}

// ReadDir lists every file in the adapter's directory as fs.DirEntry
// values, the data source for an http.FileServer-style directory listing.
func (a *Adapter) ReadDir(name string) ([]fs.DirEntry, error) {
	if name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	names, err := a.fsys.ListDir(a.dir)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		info, err := a.stat(n)
		if err != nil {
			return nil, &fs.PathError{Op: "readdir", Path: n, Err: err}
		}
		entries = append(entries, dirEntry{info: info})
	}
	return entries, nil
}

// openFile is the fs.File returned by Open: a fully buffered payload plus
// its metadata.
type openFile struct {
	info *fileInfo
	r    *bytes.Reader
}

func (f *openFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *openFile) Read(b []byte) (int, error) { return f.r.Read(b) }
func (f *openFile) Close() error               { return nil }

// fileInfo implements fs.FileInfo for one bitfs file.
type fileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return false }
func (fi *fileInfo) Sys() any           { return nil }

// dirEntry implements fs.DirEntry in terms of a fileInfo.
type dirEntry struct {
	info *fileInfo
}

func (d dirEntry) Name() string               { return d.info.Name() }
func (d dirEntry) IsDir() bool                 { return false }
func (d dirEntry) Type() fs.FileMode           { return d.info.Mode().Type() }
func (d dirEntry) Info() (fs.FileInfo, error)  { return d.info, nil }
