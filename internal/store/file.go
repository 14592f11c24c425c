package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File is a Store backed by a single file on disk. Writes are atomic: the
// blob is written to a temporary file in the same directory and renamed into
// place, so a concurrent reader never observes a partial write.
type File struct {
	path string
}

// NewFile creates a file store at path, creating parent directories as
// needed. The file itself is not created until the first write.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("cache file path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving cache file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return &File{path: abs}, nil
}

// Read returns the file contents, or empty when the file does not exist.
func (f *File) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	return data, nil
}

// Write atomically replaces the file contents. The cache holds credentials,
// so the file is restricted to the owning user.
func (f *File) Write(ctx context.Context, data []byte) error {
	dir, base := filepath.Split(f.path)

	tmp, err := os.CreateTemp(dir, base+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary cache file: %w", err)
	}
	tmpName := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	defer f.Close()

	if err := f.Chmod(0o600); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// Clear removes the file. A missing file is not an error.
func (f *File) Clear(ctx context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}

// ID returns the absolute file path.
func (f *File) ID() string {
	return f.path
}

// Close is a no-op: the file is opened per operation.
func (f *File) Close() error {
	return nil
}
