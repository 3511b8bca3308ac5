package blockdev

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/illarion/lockimg/internal/sector"
)

const sectorSize = sector.Size

// Channel is an encrypted random-access view of a Storage.
type Channel struct {
	st     Storage
	cipher *sector.Cipher
	log    logrus.FieldLogger
	length int64
	pos    int64
	closed bool

	// Scratch sectors, owned by this channel only.
	head [sectorSize]byte
	tail [sectorSize]byte
	raw  [sectorSize]byte
}

var (
	_ Device             = (*Channel)(nil)
	_ io.ReadWriteSeeker = (*Channel)(nil)
)

// Option configures a Channel.
type Option func(*Channel)

// WithLogger traces misaligned and partial sector access at debug level.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// Open wraps st. The storage length must already be a sector multiple.
func Open(st Storage, c *sector.Cipher, opts ...Option) (*Channel, error) {
	size, err := st.Size()
	if err != nil {
		return nil, &MediumError{Op: "stat", Err: err}
	}
	if size%sectorSize != 0 {
		return nil, fmt.Errorf("%w: device length %d", ErrInvalidSize, size)
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)

	ch := &Channel{
		st:     st,
		cipher: c,
		log:    quiet,
		length: size,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// OpenFile opens a local image file and wraps it in a Channel.
// The file is closed again if the channel cannot be created.
func OpenFile(name string, flag int, c *sector.Cipher, opts ...Option) (*Channel, error) {
	st, err := OpenFileStorage(name, flag)
	if err != nil {
		return nil, err
	}
	ch, err := Open(st, c, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}
	return ch, nil
}

// Len returns the device length in bytes.
func (c *Channel) Len() int64 {
	return c.length
}

// Sectors returns the number of sectors on the device.
func (c *Channel) Sectors() int64 {
	return c.length / sectorSize
}

// ReadAt decrypts len(p) bytes starting at off into p.
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if err := c.checkRange(off, len(p)); err != nil {
		return 0, err
	}

	for n := 0; n < len(p); {
		pos := off + int64(n)
		index := pos / sectorSize
		skip := int(pos % sectorSize)
		chunk := min(sectorSize-skip, len(p)-n)

		if chunk == sectorSize {
			if err := c.readSector(p[n:n+sectorSize], index); err != nil {
				return 0, err
			}
		} else {
			c.log.WithFields(logrus.Fields{"sector": index, "skip": skip, "length": chunk}).
				Debug("partial sector read")
			if err := c.readSector(c.head[:], index); err != nil {
				return 0, err
			}
			copy(p[n:n+chunk], c.head[skip:skip+chunk])
		}
		n += chunk
	}

	return len(p), nil
}

// WriteAt encrypts p onto the device starting at off. Partially covered
// sectors at either end are read back and merged before any sector is
// written, so the medium only receives whole sectors.
func (c *Channel) WriteAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if err := c.checkRange(off, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p))
	first := off / sectorSize
	last := (end - 1) / sectorSize
	skip := int(off % sectorSize)
	fill := int(end % sectorSize)

	headPartial := skip != 0 || (first == last && fill != 0)
	tailPartial := last != first && fill != 0

	if headPartial {
		c.log.WithFields(logrus.Fields{"sector": first, "skip": skip}).Debug("partial sector write, reading back")
		if err := c.readSector(c.head[:], first); err != nil {
			return 0, err
		}
		copy(c.head[skip:], p)
	}
	if tailPartial {
		c.log.WithFields(logrus.Fields{"sector": last, "fill": fill}).Debug("partial sector write, reading back")
		if err := c.readSector(c.tail[:], last); err != nil {
			return 0, err
		}
		copy(c.tail[:fill], p[last*sectorSize-off:])
	}

	for index := first; index <= last; index++ {
		var plain []byte
		switch {
		case index == first && headPartial:
			plain = c.head[:]
		case index == last && tailPartial:
			plain = c.tail[:]
		default:
			start := index*sectorSize - off
			plain = p[start : start+sectorSize]
		}
		if err := c.writeSector(plain, index); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Read reads len(p) bytes at the cursor and advances it. At the end of the
// device it returns io.EOF; a request that crosses the end fails with
// ErrOutOfRange.
func (c *Channel) Read(p []byte) (int, error) {
	if !c.closed && len(p) > 0 && c.pos >= c.length {
		return 0, io.EOF
	}
	n, err := c.ReadAt(p, c.pos)
	c.pos += int64(n)
	return n, err
}

// Write writes p at the cursor and advances it.
func (c *Channel) Write(p []byte) (int, error) {
	n, err := c.WriteAt(p, c.pos)
	c.pos += int64(n)
	return n, err
}

// Seek sets the cursor for the next Read or Write.
func (c *Channel) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = c.length + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if err := c.SetPosition(abs); err != nil {
		return 0, err
	}
	return abs, nil
}

// Position returns the cursor.
func (c *Channel) Position() int64 {
	return c.pos
}

// SetPosition moves the cursor. Positions past the end are allowed, reads
// and writes from there fail.
func (c *Channel) SetPosition(pos int64) error {
	if pos < 0 {
		return fmt.Errorf("%w: negative position %d", ErrOutOfRange, pos)
	}
	c.pos = pos
	return nil
}

// SetLength resizes the device to n bytes and overwrites every sector,
// old and new, with an encrypted zero sector. n must be a sector multiple.
// The cost is proportional to n, not to the change in length.
func (c *Channel) SetLength(n int64) error {
	if c.closed {
		return ErrClosed
	}
	if n < 0 || n%sectorSize != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}

	if err := c.st.Truncate(n); err != nil {
		return &MediumError{Op: "truncate", Offset: n, Err: err}
	}
	c.length = n
	if c.pos > n {
		c.pos = n
	}

	var zero [sectorSize]byte
	for index := int64(0); index < n/sectorSize; index++ {
		if err := c.writeSector(zero[:], index); err != nil {
			return err
		}
	}
	return nil
}

// Sync flushes the medium.
func (c *Channel) Sync() error {
	if c.closed {
		return ErrClosed
	}
	if err := c.st.Sync(); err != nil {
		return &MediumError{Op: "sync", Err: err}
	}
	return nil
}

// Close releases the storage handle and wipes the scratch sectors.
func (c *Channel) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	clear(c.head[:])
	clear(c.tail[:])
	clear(c.raw[:])
	return c.st.Close()
}

// ReadBuffers is not supported.
func (c *Channel) ReadBuffers(bufs [][]byte, off int64) (int64, error) {
	return 0, fmt.Errorf("%w: scattering read", ErrUnsupported)
}

// WriteBuffers is not supported.
func (c *Channel) WriteBuffers(bufs [][]byte, off int64) (int64, error) {
	return 0, fmt.Errorf("%w: gathering write", ErrUnsupported)
}

// Map is not supported: mapped pages would expose ciphertext.
func (c *Channel) Map(off, length int64) ([]byte, error) {
	return nil, fmt.Errorf("%w: memory mapping", ErrUnsupported)
}

// TransferTo is not supported: a direct copy would bypass decryption.
func (c *Channel) TransferTo(off, n int64, w io.Writer) (int64, error) {
	return 0, fmt.Errorf("%w: direct transfer", ErrUnsupported)
}

// Lock is not supported.
func (c *Channel) Lock(off, length int64, shared bool) error {
	return fmt.Errorf("%w: range lock", ErrUnsupported)
}

func (c *Channel) checkRange(off int64, n int) error {
	if off < 0 || int64(n) > c.length-off {
		return fmt.Errorf("%w: [%d, %d) on device of length %d", ErrOutOfRange, off, off+int64(n), c.length)
	}
	return nil
}

// readSector reads sector index from the medium and decrypts it into dst.
func (c *Channel) readSector(dst []byte, index int64) error {
	off := index * sectorSize
	n, err := c.st.ReadAt(c.raw[:], off)
	if n < sectorSize {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &MediumError{Op: "read", Offset: off, Err: err}
	}
	c.cipher.DecryptSector(dst, c.raw[:], uint64(index))
	return nil
}

// writeSector encrypts plain as sector index and writes it to the medium.
func (c *Channel) writeSector(plain []byte, index int64) error {
	off := index * sectorSize
	c.cipher.EncryptSector(c.raw[:], plain, uint64(index))
	n, err := c.st.WriteAt(c.raw[:], off)
	if err == nil && n < sectorSize {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &MediumError{Op: "write", Offset: off, Err: err}
	}
	return nil
}

// OpenImage is a convenience for opening an existing image read-write.
func OpenImage(name string, c *sector.Cipher, opts ...Option) (*Channel, error) {
	return OpenFile(name, os.O_RDWR, c, opts...)
}
