package blockdev

import (
	"fmt"
	"io"
	"os"
)

// Storage is the raw, exclusively owned medium below a Channel.
type Storage interface {
	io.ReaderAt
	io.WriterAt
	Truncate(size int64) error
	Size() (int64, error)
	Sync() error
	Close() error
}

// Device is the block device contract offered to consumers such as a
// filesystem formatter.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Len() int64
	SetLength(n int64) error
	Sync() error
	Close() error
}

// FileStorage adapts a local file to Storage.
type FileStorage struct {
	*os.File
}

var _ Storage = (*FileStorage)(nil)

// OpenFileStorage opens name with the given flags. Files are created 0600.
func OpenFileStorage(name string, flag int) (*FileStorage, error) {
	f, err := os.OpenFile(name, flag, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return &FileStorage{File: f}, nil
}

// Size returns the current file length.
func (fs *FileStorage) Size() (int64, error) {
	info, err := fs.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
