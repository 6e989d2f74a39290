// Copyright (C) 2025 The Sleekd Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package osutil implements utilities for native OS support.
package osutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// ErrClosed is returned on operations against an AtomicWriter that has
// already been closed.
var ErrClosed = errors.New("write to closed writer")

const tempPrefix = ".sleekd.tmp."

// An AtomicWriter writes to a temporary file in the same directory as the
// final path and moves it into place on Close. Errors latch: a failed Write
// comes back from every later call, so checking Close alone is enough.
type AtomicWriter struct {
	path string
	next *os.File
	err  error
}

// CreateAtomic is like os.Create, except the data ends up in a temporary
// file that replaces the named one first on Close. The temporary is created
// with secure (0600) permissions, as that is what os.CreateTemp gives us.
func CreateAtomic(path string) (*AtomicWriter, error) {
	fd, err := os.CreateTemp(filepath.Dir(path), tempPrefix)
	if err != nil {
		return nil, err
	}
	return &AtomicWriter{path: path, next: fd}, nil
}

// Write is like io.Writer, but is a no-op on an already failed AtomicWriter.
func (w *AtomicWriter) Write(bs []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err := w.next.Write(bs)
	if err != nil {
		w.err = err
		w.next.Close()
	}
	return n, err
}

// Close syncs and closes the temporary file and renames it to the final
// path. The writer is unusable afterwards.
func (w *AtomicWriter) Close() error {
	if w.err != nil {
		return w.err
	}

	// Try to not leave a temp file around on failure, ignoring the error.
	defer os.Remove(w.next.Name())

	// sync() isn't supported everywhere, best effort suffices.
	_ = w.next.Sync()

	if err := w.next.Close(); err != nil {
		w.err = err
		return err
	}

	if err := w.commit(); err != nil {
		w.err = err
		return err
	}
	syncDir(filepath.Dir(w.path))

	// Latch ErrClosed for any future operations.
	w.err = ErrClosed
	return nil
}

// commit moves the temporary into place, carrying over the permissions of
// any file it replaces.
func (w *AtomicWriter) commit() error {
	info, infoErr := os.Lstat(w.path)
	if infoErr != nil && !os.IsNotExist(infoErr) {
		return infoErr
	}

	err := os.Rename(w.next.Name(), w.path)
	if runtime.GOOS == "windows" && os.IsPermission(err) {
		// Windows refuses to rename over a read-only file. Make the
		// target writable and try again.
		_ = os.Chmod(w.path, 0644)
		err = os.Rename(w.next.Name(), w.path)
	}
	if err != nil {
		return err
	}

	if infoErr == nil {
		return os.Chmod(w.path, info.Mode())
	}
	return nil
}

// syncDir flushes the directory entry for a just renamed file, where the
// platform supports it.
func syncDir(dir string) {
	if fd, err := os.Open(dir); err == nil {
		fd.Sync()
		fd.Close()
	}
}
