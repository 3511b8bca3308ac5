package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/illarion/lockimg/internal/blockdev"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/sector"
	"github.com/illarion/lockimg/internal/storage"
)

// AutoOffset places an imported file after the last extent.
const AutoOffset = -1

// ImportOptions controls where an imported file lands.
type ImportOptions struct {
	Name   string // extent name, defaults to the file's base name
	Offset int64  // byte offset in the image, or AutoOffset
}

// Import copies a local file into the image and records it as an extent.
func (img *Image) Import(ctx context.Context, password []byte, src string, opts ImportOptions) (*storage.Extent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", src)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(src)
	}

	s, err := img.unlock(password, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	extents, err := s.db.ListExtents()
	if err != nil {
		return nil, err
	}
	if extents.Find(name) != nil {
		return nil, fmt.Errorf("%w: %s", ErrExtentExists, name)
	}

	offset := opts.Offset
	if offset == AutoOffset {
		offset = extents.NextOffset(sector.Size)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", blockdev.ErrOutOfRange, offset)
	}
	if other := extents.Overlapping(offset, info.Size()); other != nil {
		return nil, fmt.Errorf("%w: %s", ErrExtentOverlap, other.Name)
	}
	if offset+info.Size() > s.ch.Len() {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, image has %d", ErrNoSpace, info.Size(), offset, s.ch.Len())
	}

	log := img.log.WithFields(logrus.Fields{"extent": name, "offset": offset, "length": info.Size()})
	log.Debug("importing")

	h := sha256.New()
	w := io.NewOffsetWriter(s.ch, offset)
	n, err := img.copyChunks(ctx, io.MultiWriter(w, h), io.LimitReader(f, info.Size()))
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", src, err)
	}
	if n != info.Size() {
		return nil, fmt.Errorf("%s changed while importing: read %d of %d bytes", src, n, info.Size())
	}
	if err := s.ch.Sync(); err != nil {
		return nil, err
	}

	source, err := filepath.Abs(src)
	if err != nil {
		source = src
	}
	extent := storage.Extent{
		Name:    name,
		Offset:  offset,
		Length:  n,
		Hash:    hex.EncodeToString(h.Sum(nil)),
		Source:  source,
		ModTime: info.ModTime(),
	}
	if err := s.db.PutExtent(extent); err != nil {
		return nil, fmt.Errorf("failed to record extent: %w", err)
	}
	return &extent, nil
}

// Export writes the plaintext of an extent to w. The bytes are hashed on
// the way out; a mismatch with the catalog is reported as
// ErrChecksumMismatch after everything has been written.
func (img *Image) Export(ctx context.Context, password []byte, name string, w io.Writer) (*storage.Extent, error) {
	s, err := img.unlock(password, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	extent, err := s.db.GetExtent(name)
	if err != nil {
		return nil, err
	}
	if extent == nil {
		return nil, fmt.Errorf("%w: %s", ErrExtentNotFound, name)
	}

	h := sha256.New()
	r := io.NewSectionReader(s.ch, extent.Offset, extent.Length)
	if _, err := img.copyChunks(ctx, io.MultiWriter(w, h), r); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", name, err)
	}

	if hex.EncodeToString(h.Sum(nil)) != extent.Hash {
		return extent, fmt.Errorf("%w: %s", ErrChecksumMismatch, name)
	}
	return extent, nil
}

// Cat writes the decrypted byte range [offset, offset+length) to w. A
// negative length means up to the end of the image.
func (img *Image) Cat(ctx context.Context, password []byte, offset, length int64, w io.Writer) error {
	s, err := img.unlock(password, true)
	if err != nil {
		return err
	}
	defer s.Close()

	if length < 0 {
		length = s.ch.Len() - offset
	}
	if offset < 0 || length < 0 || length > s.ch.Len()-offset {
		return fmt.Errorf("%w: [%d, %d) on image of length %d", blockdev.ErrOutOfRange, offset, offset+length, s.ch.Len())
	}

	_, err = img.copyChunks(ctx, w, io.NewSectionReader(s.ch, offset, length))
	return err
}

// RemoveExtent drops an extent from the catalog. With wipe set, its bytes
// in the image are overwritten with zeros first.
func (img *Image) RemoveExtent(ctx context.Context, password []byte, name string, wipe bool) error {
	s, err := img.unlock(password, true)
	if err != nil {
		return err
	}
	defer s.Close()

	extent, err := s.db.GetExtent(name)
	if err != nil {
		return err
	}
	if extent == nil {
		return fmt.Errorf("%w: %s", ErrExtentNotFound, name)
	}

	if wipe {
		img.log.WithField("extent", name).Debug("wiping")
		zero := io.LimitReader(zeroReader{}, extent.Length)
		if _, err := img.copyChunks(ctx, io.NewOffsetWriter(s.ch, extent.Offset), zero); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", name, err)
		}
		if err := s.ch.Sync(); err != nil {
			return err
		}
	}

	return s.db.RemoveExtent(name)
}

// copyChunks copies r to w in chunkSize pieces, checking ctx between them.
func (img *Image) copyChunks(ctx context.Context, w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, img.chunkSize)
	defer crypto.ClearBytes(buf)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return total, err
			}
			total += int64(n)
		}
		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return total, nil
		default:
			return total, rerr
		}
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
