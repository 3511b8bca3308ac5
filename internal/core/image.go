package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/illarion/lockimg/internal/blockdev"
	"github.com/illarion/lockimg/internal/crypto"
	"github.com/illarion/lockimg/internal/sector"
	"github.com/illarion/lockimg/internal/storage"
)

const (
	CatalogExt          = ".lockimg"
	FilePermSecure      = 0600       // File: owner rw only
	DefaultChunkSize    = 512 * 1024 // Copy buffer for import/export
	passwordCheckString = "lockimg-password-check"
)

var (
	ErrNotInitialized   = errors.New("image not initialized")
	ErrAlreadyExists    = errors.New("image already exists")
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordRequired = errors.New("password required")
	ErrExtentNotFound   = errors.New("extent not found")
	ErrExtentExists     = errors.New("extent already exists")
	ErrExtentOverlap    = errors.New("extent overlaps an existing extent")
	ErrNoSpace          = errors.New("image too small")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrInvalidChunkSize = errors.New("chunk size must be a positive multiple of the sector size")
)

// Image manages one encrypted image and its catalog.
type Image struct {
	path        string
	catalogPath string
	log         logrus.FieldLogger
	chunkSize   int
	iterations  int
}

// Option configures an Image.
type Option func(*Image)

// WithLogger sets the diagnostic logger. The block channel inherits it.
func WithLogger(log logrus.FieldLogger) Option {
	return func(img *Image) {
		if log != nil {
			img.log = log
		}
	}
}

// WithChunkSize sets the copy buffer used by import, export and verify.
func WithChunkSize(n int) Option {
	return func(img *Image) {
		img.chunkSize = n
	}
}

// WithIterations sets the PBKDF2 rounds used for new keys.
func WithIterations(n int) Option {
	return func(img *Image) {
		img.iterations = n
	}
}

// New creates an Image for the image file at path. Nothing is opened yet.
func New(path string, opts ...Option) (*Image, error) {
	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	img := &Image{
		path:        path,
		catalogPath: CatalogPath(path),
		log:         quiet,
		chunkSize:   DefaultChunkSize,
		iterations:  crypto.DefaultIters,
	}
	for _, opt := range opts {
		opt(img)
	}

	if img.chunkSize <= 0 || img.chunkSize%sector.Size != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, img.chunkSize)
	}
	if img.iterations <= 0 {
		return nil, crypto.ErrInvalidIterations
	}
	img.log = img.log.WithField("image", path)
	return img, nil
}

// CatalogPath returns the catalog file that belongs to an image.
func CatalogPath(image string) string {
	return image + CatalogExt
}

// Path returns the image file path.
func (img *Image) Path() string {
	return img.path
}

// Create writes a new image of size bytes, every sector an encrypted zero
// sector, and its catalog. A nil salt picks a random one.
func (img *Image) Create(ctx context.Context, password, salt []byte, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if password == nil {
		return ErrPasswordRequired
	}
	for _, p := range []string{img.path, img.catalogPath} {
		if _, err := os.Stat(p); err == nil {
			return ErrAlreadyExists
		}
	}
	if size < 0 || size%sector.Size != 0 {
		return fmt.Errorf("%w: %d", blockdev.ErrInvalidSize, size)
	}

	var kdf *crypto.KDF
	var err error
	if salt == nil {
		kdf, err = crypto.NewKDF(img.iterations)
	} else {
		kdf, err = crypto.NewKDFWithSalt(salt, img.iterations)
	}
	if err != nil {
		return fmt.Errorf("failed to create KDF: %w", err)
	}

	if err := img.create(password, kdf, size); err != nil {
		os.Remove(img.path)
		os.Remove(img.catalogPath)
		return err
	}
	return nil
}

func (img *Image) create(password []byte, kdf *crypto.KDF, size int64) error {
	db, err := storage.Open(img.catalogPath)
	if err != nil {
		return fmt.Errorf("failed to create catalog: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(sector.Size); err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	keys := kdf.DeriveKeys(password)
	defer keys.Destroy()

	check, err := sealCheck(keys)
	if err != nil {
		return err
	}
	if err := db.SetKDF(kdf.Salt, uint32(kdf.Iterations), check); err != nil {
		return fmt.Errorf("failed to store KDF parameters: %w", err)
	}

	c, err := sector.New(keys.Sector)
	if err != nil {
		return err
	}
	ch, err := blockdev.OpenFile(img.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, c, blockdev.WithLogger(img.log))
	if err != nil {
		return err
	}
	defer ch.Close()

	img.log.WithField("size", size).Debug("zeroing new image")
	if err := ch.SetLength(size); err != nil {
		return fmt.Errorf("failed to size image: %w", err)
	}
	if err := ch.Sync(); err != nil {
		return err
	}
	return db.SetLength(size)
}

// session is an unlocked image: catalog open, key checked, channel ready.
type session struct {
	db   *storage.Catalog
	ch   *blockdev.Channel
	keys *crypto.Keys
}

func (s *session) Close() error {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	errs = append(errs, s.db.Close())
	s.keys.Destroy()
	return errors.Join(errs...)
}

// openCatalog opens the catalog of an existing image.
func (img *Image) openCatalog() (*storage.Catalog, error) {
	if _, err := os.Stat(img.catalogPath); err != nil {
		return nil, ErrNotInitialized
	}
	db, err := storage.Open(img.catalogPath)
	if err != nil {
		return nil, err
	}
	ok, err := db.IsInitialized()
	if err != nil || !ok {
		db.Close()
		return nil, ErrNotInitialized
	}
	return db, nil
}

// unlock derives the key, checks it and, when withChannel is set, opens
// the block channel over the image.
func (img *Image) unlock(password []byte, withChannel bool) (*session, error) {
	if password == nil {
		return nil, ErrPasswordRequired
	}

	db, err := img.openCatalog()
	if err != nil {
		return nil, err
	}

	keys, err := img.checkPassword(db, password)
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &session{db: db, keys: keys}
	if !withChannel {
		return s, nil
	}

	c, err := sector.New(keys.Sector)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ch, err = blockdev.OpenImage(img.path, c, blockdev.WithLogger(img.log))
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (img *Image) checkPassword(db *storage.Catalog, password []byte) (*crypto.Keys, error) {
	salt, err := db.GetSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to get salt: %w", err)
	}
	iterations, err := db.GetIterations()
	if err != nil {
		return nil, fmt.Errorf("failed to get iterations: %w", err)
	}
	kdf, err := crypto.NewKDFWithSalt(salt, int(iterations))
	if err != nil {
		return nil, err
	}

	keys := kdf.DeriveKeys(password)

	sealed, err := db.GetPrivate(storage.CheckKey)
	if err != nil {
		keys.Destroy()
		return nil, ErrWrongPassword
	}
	token, err := crypto.NewEncryptor(keys.Check).Decrypt(sealed)
	if err != nil || string(token) != passwordCheckString {
		keys.Destroy()
		return nil, ErrWrongPassword
	}
	return keys, nil
}

func sealCheck(keys *crypto.Keys) ([]byte, error) {
	sealed, err := crypto.NewEncryptor(keys.Check).Encrypt([]byte(passwordCheckString))
	if err != nil {
		return nil, fmt.Errorf("failed to seal password check: %w", err)
	}
	return sealed, nil
}

// VerifyPassword checks if the password is correct for this image
func (img *Image) VerifyPassword(password []byte) error {
	s, err := img.unlock(password, false)
	if err != nil {
		return err
	}
	return s.Close()
}

// GetImageID retrieves the image ID from the catalog
func (img *Image) GetImageID() (string, error) {
	db, err := img.openCatalog()
	if err != nil {
		return "", err
	}
	defer db.Close()

	return db.GetImageID()
}

// List returns the extents recorded in the catalog (no password required)
func (img *Image) List() (storage.Extents, error) {
	db, err := img.openCatalog()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return db.ListExtents()
}

// Compact compacts the catalog to reclaim unused space.
func (img *Image) Compact() error {
	db, err := img.openCatalog()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Compact()
}
