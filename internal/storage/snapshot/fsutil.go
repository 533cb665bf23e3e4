package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// atomicRename renames src to dst. Rename is atomic within a single
// filesystem; if dst already exists, it fails with ErrAlreadyExists
// rather than silently overwriting. On success, it fsyncs dst's parent
// directory so the rename itself is durable.
func atomicRename(src, dst string) *Error {
	if _, err := os.Lstat(dst); err == nil {
		return ErrAlreadyExists.withCause(fmt.Errorf("rename target %s exists", dst))
	} else if !errors.Is(err, os.ErrNotExist) {
		return wrapIoError("stat rename target", err)
	}

	if err := os.Rename(src, dst); err != nil {
		return wrapIoError("rename", err)
	}
	return fsyncDir(filepath.Dir(dst))
}

// fsyncFile flushes path's content to stable storage.
func fsyncFile(path string) *Error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return wrapIoError("open for fsync", err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return wrapIoError("fsync file", err)
	}
	return nil
}

// fsyncDir flushes a directory's own metadata (entries) to stable
// storage. Required after any rename, create, or unlink within it for
// the change to be crash-durable.
func fsyncDir(dir string) *Error {
	d, err := os.Open(dir)
	if err != nil {
		return wrapIoError("open dir for fsync", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return wrapIoError("fsync dir", err)
	}
	return nil
}

// fsyncTree fsyncs every regular file under dir, then dir itself.
func fsyncTree(dir string) *Error {
	paths, ferr := sortedRegularFiles(dir)
	if ferr != nil {
		return ferr
	}
	for _, rel := range paths {
		if err := fsyncFile(filepath.Join(dir, rel)); err != nil {
			return err
		}
	}
	return fsyncDir(dir)
}

// recursiveDelete removes path and everything under it. Deletion is
// best-effort: a partial failure is reported but must not be treated as
// fatal by callers — a later recovery pass can retry it.
func recursiveDelete(path string) *Error {
	if err := os.RemoveAll(path); err != nil {
		return wrapIoError("recursive delete", err)
	}
	return nil
}

// dirIsEmpty reports whether dir exists and has no entries. A
// nonexistent directory is reported as empty (callers distinguish
// "no directory" from "empty directory" separately where it matters).
func dirIsEmpty(dir string) (empty bool, exists bool, ferr *Error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, false, nil
		}
		return false, false, wrapIoError("read dir", err)
	}
	return len(entries) == 0, true, nil
}

// listDirs returns the names of direct subdirectories of dir, or an
// empty slice if dir does not exist.
func listDirs(dir string) ([]string, *Error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIoError("read dir", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// listFiles returns the names of the non-directory entries directly within dir, or
// an empty slice if dir does not exist.
func listFiles(dir string) ([]string, *Error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapIoError("read dir", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ensureDir creates dir (and any missing parents) if it does not
// already exist.
func ensureDir(dir string) *Error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return wrapIoError("create dir", err)
	}
	return nil
}
