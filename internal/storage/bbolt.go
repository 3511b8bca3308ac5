package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	ConfigBucket  = []byte("config")  // KDF params, image geometry, timestamps - unencrypted
	ExtentsBucket = []byte("extents") // Public extent list for ls/status - unencrypted
	PrivateBucket = []byte("private") // Sealed password check token
)

// Config keys
var (
	ConfigVersion    = []byte("version")
	ConfigCreated    = []byte("created")
	ConfigModified   = []byte("modified")
	ConfigSalt       = []byte("salt")
	ConfigIters      = []byte("iterations")
	ConfigImageID    = []byte("image_id")
	ConfigSectorSize = []byte("sector_size")
	ConfigLength     = []byte("length")
)

// CheckKey is the private bucket key of the password check token.
const CheckKey = "check"

const formatVersion = "1"

var ErrNotFound = errors.New("not found in catalog")

// Header is the unencrypted part of the catalog in one snapshot.
type Header struct {
	Version    string
	Created    time.Time
	Modified   time.Time
	ImageID    string
	Salt       []byte
	Iterations uint32
	SectorSize uint32
	Length     int64
}

// Catalog provides BBolt-based storage for image metadata
type Catalog struct {
	db *bolt.DB
}

// Open opens or creates a catalog database. It gives up after a second if
// another process holds the file lock.
func Open(path string) (*Catalog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	return &Catalog{db: db}, nil
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the catalog file path
func (c *Catalog) Path() string {
	return c.db.Path()
}

// Initialize creates the bucket structure for a new image catalog
func (c *Catalog) Initialize(sectorSize uint32) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{ConfigBucket, ExtentsBucket, PrivateBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigVersion, []byte(formatVersion)); err != nil {
			return err
		}
		if err := config.Put(ConfigSectorSize, putUint32(sectorSize)); err != nil {
			return err
		}
		if err := config.Put(ConfigImageID, []byte(uuid.NewString())); err != nil {
			return err
		}

		now, _ := time.Now().MarshalBinary()
		if err := config.Put(ConfigCreated, now); err != nil {
			return err
		}
		return config.Put(ConfigModified, now)
	})
}

// IsInitialized checks if the database has been initialized
func (c *Catalog) IsInitialized() (bool, error) {
	var initialized bool
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config != nil && config.Get(ConfigVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// SetKDF stores the salt, iteration count and sealed check token in one
// transaction, so a re-key never leaves them out of step.
func (c *Catalog) SetKDF(salt []byte, iterations uint32, check []byte) error {
	return c.update(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if err := config.Put(ConfigSalt, salt); err != nil {
			return err
		}
		if err := config.Put(ConfigIters, putUint32(iterations)); err != nil {
			return err
		}
		return tx.Bucket(PrivateBucket).Put([]byte(CheckKey), check)
	})
}

// GetSalt retrieves the KDF salt
func (c *Catalog) GetSalt() ([]byte, error) {
	return c.getConfig(ConfigSalt)
}

// GetIterations retrieves the KDF iterations
func (c *Catalog) GetIterations() (uint32, error) {
	data, err := c.getConfig(ConfigIters)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("iterations: malformed value")
	}
	return binary.BigEndian.Uint32(data), nil
}

// GetImageID retrieves the image ID from the config bucket
func (c *Catalog) GetImageID() (string, error) {
	data, err := c.getConfig(ConfigImageID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetLength records the image length in bytes
func (c *Catalog) SetLength(length int64) error {
	return c.update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(length))
		return tx.Bucket(ConfigBucket).Put(ConfigLength, buf)
	})
}

// GetModified retrieves the last modified timestamp
func (c *Catalog) GetModified() (time.Time, error) {
	var modified time.Time
	data, err := c.getConfig(ConfigModified)
	if err != nil {
		return modified, err
	}
	if err := modified.UnmarshalBinary(data); err != nil {
		return modified, err
	}
	return modified, nil
}

// Header reads every config value in a single transaction
func (c *Catalog) Header() (*Header, error) {
	h := &Header{}
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket %w", ErrNotFound)
		}

		h.Version = string(config.Get(ConfigVersion))
		h.ImageID = string(config.Get(ConfigImageID))
		h.Salt = append([]byte(nil), config.Get(ConfigSalt)...)
		if v := config.Get(ConfigIters); len(v) == 4 {
			h.Iterations = binary.BigEndian.Uint32(v)
		}
		if v := config.Get(ConfigSectorSize); len(v) == 4 {
			h.SectorSize = binary.BigEndian.Uint32(v)
		}
		if v := config.Get(ConfigLength); len(v) == 8 {
			h.Length = int64(binary.BigEndian.Uint64(v))
		}
		if v := config.Get(ConfigCreated); v != nil {
			if err := h.Created.UnmarshalBinary(v); err != nil {
				return err
			}
		}
		if v := config.Get(ConfigModified); v != nil {
			if err := h.Modified.UnmarshalBinary(v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// PutExtent adds or replaces an extent
func (c *Catalog) PutExtent(e Extent) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.update(func(tx *bolt.Tx) error {
		return tx.Bucket(ExtentsBucket).Put([]byte(e.Name), data)
	})
}

// GetExtent returns a single extent, or nil if there is none by that name
func (c *Catalog) GetExtent(name string) (*Extent, error) {
	var extent *Extent
	err := c.db.View(func(tx *bolt.Tx) error {
		extents := tx.Bucket(ExtentsBucket)
		if extents == nil {
			return fmt.Errorf("extents bucket %w", ErrNotFound)
		}
		data := extents.Get([]byte(name))
		if data == nil {
			return nil
		}
		extent = &Extent{}
		return json.Unmarshal(data, extent)
	})
	return extent, err
}

// RemoveExtent removes an extent from the catalog
func (c *Catalog) RemoveExtent(name string) error {
	return c.update(func(tx *bolt.Tx) error {
		return tx.Bucket(ExtentsBucket).Delete([]byte(name))
	})
}

// ListExtents returns every extent ordered by offset
func (c *Catalog) ListExtents() (Extents, error) {
	var extents Extents
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(ExtentsBucket)
		if bucket == nil {
			return fmt.Errorf("extents bucket %w", ErrNotFound)
		}
		return bucket.ForEach(func(k, v []byte) error {
			var e Extent
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("extent %s: %w", k, err)
			}
			extents = append(extents, e)
			return nil
		})
	})
	sort.Sort(extents)
	return extents, err
}

// ClearExtents drops every extent. Used when the image is zeroed.
func (c *Catalog) ClearExtents() error {
	return c.update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(ExtentsBucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(ExtentsBucket)
		return err
	})
}

// StorePrivate stores sealed bytes in the private bucket
func (c *Catalog) StorePrivate(key string, sealed []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(PrivateBucket).Put([]byte(key), sealed)
	})
}

// GetPrivate retrieves sealed bytes from the private bucket
func (c *Catalog) GetPrivate(key string) ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		private := tx.Bucket(PrivateBucket)
		if private == nil {
			return fmt.Errorf("private bucket %w", ErrNotFound)
		}
		data = private.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %w", key, ErrNotFound)
		}
		// Make a copy since the slice is only valid during the transaction
		data = append([]byte(nil), data...)
		return nil
	})
	return data, err
}

// Compact creates a compacted copy of the database, removing unused space.
func (c *Catalog) Compact() error {
	srcPath := c.db.Path()
	tmpPath := srcPath + ".compact"

	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	if err := bolt.Compact(dst, c.db, 0); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := c.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to back up catalog: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	c.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}

// update runs fn in a write transaction and bumps the modified timestamp.
func (c *Catalog) update(fn func(tx *bolt.Tx) error) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(ConfigBucket) == nil {
			return fmt.Errorf("config bucket %w", ErrNotFound)
		}
		if err := fn(tx); err != nil {
			return err
		}
		now, _ := time.Now().MarshalBinary()
		return tx.Bucket(ConfigBucket).Put(ConfigModified, now)
	})
}

func (c *Catalog) getConfig(key []byte) ([]byte, error) {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(ConfigBucket)
		if config == nil {
			return fmt.Errorf("config bucket %w", ErrNotFound)
		}
		data = config.Get(key)
		if data == nil {
			return fmt.Errorf("%s %w", key, ErrNotFound)
		}
		data = append([]byte(nil), data...)
		return nil
	})
	return data, err
}

func putUint32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}
