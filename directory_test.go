package bitfs

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDirectoryIndexCreateAndFind(t *testing.T) {
	di := newDirectoryIndex()

	if !di.CreateDir("/photos", 10) {
		t.Fatal("CreateDir on a fresh index should succeed")
	}
	if di.CreateDir("/photos", 99) {
		t.Fatal("CreateDir should refuse a duplicate path")
	}

	addr, ok := di.FindDir("/photos")
	if !ok || addr != 10 {
		t.Fatalf("FindDir(/photos) = (%d, %v), want (10, true)", addr, ok)
	}

	if _, ok := di.FindDir("/missing"); ok {
		t.Fatal("FindDir on an absent path should report ok=false")
	}
}

func TestDirectoryIndexMoveDir(t *testing.T) {
	di := newDirectoryIndex()
	di.CreateDir("/a", 1)
	di.CreateDir("/b", 2)

	if err := di.MoveDir("/a", "/c"); err != nil {
		t.Fatalf("MoveDir: %v", err)
	}
	if _, ok := di.FindDir("/a"); ok {
		t.Fatal("source path should no longer resolve after MoveDir")
	}
	if addr, ok := di.FindDir("/c"); !ok || addr != 1 {
		t.Fatalf("FindDir(/c) = (%d, %v), want (1, true)", addr, ok)
	}

	if err := di.MoveDir("/missing", "/d"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MoveDir from a missing path: got %v, want ErrNotFound", err)
	}
	if err := di.MoveDir("/b", "/c"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("MoveDir onto an existing path: got %v, want ErrAlreadyExists", err)
	}
}

func TestDirectoryIndexPathsSorted(t *testing.T) {
	di := newDirectoryIndex()
	di.CreateDir("/zebra", 1)
	di.CreateDir("/apple", 2)
	di.CreateDir("/mango", 3)

	got := di.Paths()
	want := []string{"/apple", "/mango", "/zebra"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Paths() mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectoryIndexSerializeRoundTrip(t *testing.T) {
	di := newDirectoryIndex()
	di.CreateDir("/a", 1)
	di.CreateDir("/b", 2)

	data := di.serialize()
	got, err := deserializeDirectoryIndex(data)
	if err != nil {
		t.Fatalf("deserializeDirectoryIndex: %v", err)
	}
	if diff := cmp.Diff(di.directories, got.directories); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectoryAddGetRemoveFile(t *testing.T) {
	d := newDirectory()

	if err := d.AddFile("a.txt", 5); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := d.AddFile("a.txt", 6); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("AddFile duplicate: got %v, want ErrAlreadyExists", err)
	}

	addr, ok := d.GetFile("a.txt")
	if !ok || addr != 5 {
		t.Fatalf("GetFile(a.txt) = (%d, %v), want (5, true)", addr, ok)
	}

	if err := d.RemoveFile("a.txt"); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if err := d.RemoveFile("a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveFile missing: got %v, want ErrNotFound", err)
	}
}

func TestDirectorySerializeRoundTripChecksumVerified(t *testing.T) {
	d := newDirectory()
	d.AddFile("one", 1)
	d.AddFile("two", 2)

	data := d.serialize()
	data[len(data)-5] ^= 0xFF // corrupt a body byte without touching the trailing checksum

	if _, err := deserializeDirectory(data); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("deserializeDirectory on tampered data: got %v, want ErrChecksumMismatch", err)
	}
}
