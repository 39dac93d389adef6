// Package cachegate decides whether a generated artifact is still current,
// and keeps the sidecar record that lets the next run make that decision.
package cachegate

import (
	"context"
	"io/fs"
	"os"
)

// Locker serializes builds of one artifact across processes.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// FileSystem abstracts file system operations for testing.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Remove(path string) error
	Rename(oldpath, newpath string) error
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
}

// OSFileSystem is the production implementation of FileSystem.
type OSFileSystem struct{}

// ReadFile reads the file at the given path.
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to the file at the given path.
func (OSFileSystem) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

// Remove removes the file at the given path.
func (OSFileSystem) Remove(path string) error {
	return os.Remove(path)
}

// Rename renames (moves) oldpath to newpath.
// This operation is atomic on POSIX systems.
func (OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Stat returns file info for the given path.
func (OSFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// MkdirAll creates a directory and any missing parents.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
