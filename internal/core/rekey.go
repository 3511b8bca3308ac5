package core

import (
	"context"
	"fmt"
	"os"

	"github.com/illarion/lockimg/internal/blockdev"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/sector"
)

// Resize sets the image length to size bytes. Every sector is rewritten as
// an encrypted zero sector, so all extents are dropped.
func (img *Image) Resize(ctx context.Context, password []byte, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := img.unlock(password, true)
	if err != nil {
		return err
	}
	defer s.Close()

	img.log.WithField("size", size).Debug("resizing")
	if err := s.ch.SetLength(size); err != nil {
		return err
	}
	if err := s.ch.Sync(); err != nil {
		return err
	}
	if err := s.db.ClearExtents(); err != nil {
		return fmt.Errorf("failed to clear extents: %w", err)
	}
	return s.db.SetLength(size)
}

// ChangePassword re-encrypts every sector under a key derived from the new
// password and a fresh salt. The new image is written next to the old one
// and swapped in before the catalog is updated; if the catalog update fails
// the old image is put back.
func (img *Image) ChangePassword(ctx context.Context, currentPassword, newPassword []byte) error {
	if newPassword == nil {
		return ErrPasswordRequired
	}

	s, err := img.unlock(currentPassword, false)
	if err != nil {
		return err
	}
	defer s.Close()

	kdf, err := crypto.NewKDF(img.iterations)
	if err != nil {
		return fmt.Errorf("failed to create KDF: %w", err)
	}
	newKeys := kdf.DeriveKeys(newPassword)
	defer newKeys.Destroy()

	from, err := sector.New(s.keys.Sector)
	if err != nil {
		return err
	}
	to, err := sector.New(newKeys.Sector)
	if err != nil {
		return err
	}

	tmpPath := img.path + ".rekey"
	if err := img.reencrypt(ctx, tmpPath, from, to); err != nil {
		os.Remove(tmpPath)
		return err
	}

	check, err := sealCheck(newKeys)
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	backupPath := img.path + ".backup"
	if err := os.Rename(img.path, backupPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to backup image: %w", err)
	}
	if err := os.Rename(tmpPath, img.path); err != nil {
		os.Rename(backupPath, img.path) // rollback
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace image: %w", err)
	}
	if err := s.db.SetKDF(kdf.Salt, uint32(kdf.Iterations), check); err != nil {
		os.Rename(backupPath, img.path) // rollback
		return fmt.Errorf("failed to store new KDF parameters: %w", err)
	}
	os.Remove(backupPath)

	return nil
}

// reencrypt writes a copy of the image to dstPath, each sector decrypted
// with from and encrypted with to under the same index.
func (img *Image) reencrypt(ctx context.Context, dstPath string, from, to *sector.Cipher) error {
	src, err := blockdev.OpenFileStorage(img.path, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer src.Close()

	size, err := src.Size()
	if err != nil {
		return err
	}
	if size%sector.Size != 0 {
		return fmt.Errorf("%w: image length %d", blockdev.ErrInvalidSize, size)
	}

	dst, err := blockdev.OpenFileStorage(dstPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer dst.Close()

	if err := dst.Truncate(size); err != nil {
		return err
	}

	buf := make([]byte, sector.Size)
	defer crypto.ClearBytes(buf)

	img.log.WithField("sectors", size/sector.Size).Debug("re-encrypting")
	for index := int64(0); index < size/sector.Size; index++ {
		if index%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		off := index * sector.Size
		if _, err := src.ReadAt(buf, off); err != nil {
			return &blockdev.MediumError{Op: "read", Offset: off, Err: err}
		}
		from.DecryptSector(buf, buf, uint64(index))
		to.EncryptSector(buf, buf, uint64(index))
		if _, err := dst.WriteAt(buf, off); err != nil {
			return &blockdev.MediumError{Op: "write", Offset: off, Err: err}
		}
	}

	return dst.Sync()
}
