package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/illarion/lockimg/internal/storage"
)

// Extent states reported by Status and Verify
const (
	StateUnchanged = "unchanged"
	StateModified  = "modified"
	StateMissing   = "missing"
	StateError     = "error"
	StateOK        = "ok"
	StateCorrupted = "corrupted"
)

// ExtentStatus represents the status of one extent
type ExtentStatus struct {
	Extent storage.Extent
	Status string
}

// StatusInfo contains status information
type StatusInfo struct {
	ImageID        string
	Created        time.Time
	Modified       time.Time
	Algorithm      string
	KDF            string
	KDFIterations  uint32
	SectorSize     uint32
	Length         int64 // recorded in the catalog
	FileSize       int64 // actual image file size, -1 if missing
	Version        string
	Extents        []ExtentStatus
	UsedBytes      int64
	ModifiedCount  int
	MissingCount   int
	UnchangedCount int
}

// Consistent reports whether the image file matches the catalog length.
func (s *StatusInfo) Consistent() bool {
	return s.FileSize == s.Length
}

// Status returns the current status (no password required). Each extent is
// compared with the local file it was imported from.
func (img *Image) Status(ctx context.Context) (*StatusInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	db, err := img.openCatalog()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	h, err := db.Header()
	if err != nil {
		return nil, err
	}
	extents, err := db.ListExtents()
	if err != nil {
		return nil, err
	}

	status := &StatusInfo{
		ImageID:       h.ImageID,
		Created:       h.Created,
		Modified:      h.Modified,
		Algorithm:     "Twofish-CBC (per-sector IV)",
		KDF:           "PBKDF2-HMAC-SHA1",
		KDFIterations: h.Iterations,
		SectorSize:    h.SectorSize,
		Length:        h.Length,
		FileSize:      -1,
		Version:       h.Version,
		UsedBytes:     extents.Used(),
	}
	if info, err := os.Stat(img.path); err == nil {
		status.FileSize = info.Size()
	}

	for _, e := range extents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		es := ExtentStatus{Extent: e, Status: localState(e)}
		switch es.Status {
		case StateUnchanged:
			status.UnchangedCount++
		case StateMissing:
			status.MissingCount++
		case StateModified:
			status.ModifiedCount++
		}
		status.Extents = append(status.Extents, es)
	}

	return status, nil
}

// localState hashes the extent's source file and compares it with the catalog
func localState(e storage.Extent) string {
	if e.Source == "" {
		return StateMissing
	}
	f, err := os.Open(e.Source)
	if os.IsNotExist(err) {
		return StateMissing
	}
	if err != nil {
		return StateError
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return StateError
	}
	if hex.EncodeToString(h.Sum(nil)) != e.Hash {
		return StateModified
	}
	return StateUnchanged
}

// VerifyResult contains the outcome of re-hashing every extent
type VerifyResult struct {
	OK        []string
	Corrupted []string
}

// Verify decrypts every extent and checks it against its recorded SHA-256.
func (img *Image) Verify(ctx context.Context, password []byte) (*VerifyResult, error) {
	s, err := img.unlock(password, true)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	extents, err := s.db.ListExtents()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		OK:        make([]string, 0),
		Corrupted: make([]string, 0),
	}
	for _, e := range extents {
		h := sha256.New()
		if _, err := img.copyChunks(ctx, h, io.NewSectionReader(s.ch, e.Offset, e.Length)); err != nil {
			return nil, err
		}
		if hex.EncodeToString(h.Sum(nil)) == e.Hash {
			result.OK = append(result.OK, e.Name)
			continue
		}
		img.log.WithField("extent", e.Name).Warn("checksum mismatch")
		result.Corrupted = append(result.Corrupted, e.Name)
	}
	return result, nil
}
