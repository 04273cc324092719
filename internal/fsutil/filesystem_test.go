package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "out", "plots")

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Error("expected directory to exist")
	}

	name := filepath.Join(dir, "a.txt")
	w, err := fsys.Create(name)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected %q, got %q", "hello", data)
	}

	if err := fsys.WriteFile(name, []byte("bye"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, _ = fsys.ReadFile(name)
	if string(data) != "bye" {
		t.Errorf("expected %q, got %q", "bye", data)
	}
	if fsys.Exists(filepath.Join(dir, "missing")) {
		t.Error("expected missing file to not exist")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/out/test.txt", []byte("hello, world"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := mfs.ReadFile("/out/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "hello, world" {
		t.Errorf("expected %q, got %q", "hello, world", data)
	}

	// Returned slices are copies.
	data[0] = 'j'
	again, _ := mfs.ReadFile("/out/test.txt")
	if string(again) != "hello, world" {
		t.Errorf("stored data was modified through returned slice: %q", again)
	}

	if _, err := mfs.ReadFile("/out/missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_CreateVisibleOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()
	w, err := mfs.Create("/out/a.png")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w.Write([]byte("png"))

	if data, _ := mfs.ReadFile("/out/a.png"); len(data) != 0 {
		t.Errorf("expected empty file before Close, got %q", data)
	}
	w.Close()
	if data, _ := mfs.ReadFile("/out/a.png"); string(data) != "png" {
		t.Errorf("expected %q after Close, got %q", "png", data)
	}
}

func TestMemoryFileSystem_Dirs(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/out/run/plots", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, d := range []string{"/out", "/out/run", "/out/run/plots"} {
		if !mfs.Exists(d) {
			t.Errorf("expected %s to exist", d)
		}
	}

	mfs.WriteFile("/out/run/b.txt", nil, 0o644)
	mfs.WriteFile("/out/run/a.txt", nil, 0o644)
	mfs.WriteFile("/other/c.txt", nil, 0o644)
	got := mfs.Files("/out/run")
	if len(got) != 2 || got[0] != "/out/run/a.txt" || got[1] != "/out/run/b.txt" {
		t.Errorf("unexpected files: %v", got)
	}
}
