package sector

import (
	"crypto/cipher"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/twofish"
)

const (
	Size      = 512               // Bytes per sector
	BlockSize = twofish.BlockSize // Cipher block size in bytes
	Blocks    = Size / BlockSize  // Chained cipher blocks per sector
	ivBytes   = 4                 // Sector index bytes copied into the IV
)

var ErrInvalidKey = errors.New("invalid sector key")

// Cipher encrypts whole sectors. It holds only the expanded key and can be
// shared between channels.
type Cipher struct {
	block cipher.Block
}

// New expands a raw Twofish key (16, 24 or 32 bytes).
func New(key []byte) (*Cipher, error) {
	block, err := twofish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewWithBlock(block)
}

// NewWithBlock wraps an already constructed block cipher. The block size
// must evenly divide the sector size.
func NewWithBlock(block cipher.Block) (*Cipher, error) {
	if block.BlockSize() != BlockSize {
		return nil, fmt.Errorf("%w: block size %d, want %d", ErrInvalidKey, block.BlockSize(), BlockSize)
	}
	return &Cipher{block: block}, nil
}

// IV writes the initialization vector for sector index into dst.
func IV(dst []byte, index uint64) {
	clear(dst)
	for i := 0; i < ivBytes && i < len(dst); i++ {
		dst[i] = byte(index >> (8 * i))
	}
}

// EncryptSector encrypts one sector of plaintext from src into dst.
// dst and src must be exactly Size bytes and may be the same slice.
func (c *Cipher) EncryptSector(dst, src []byte, index uint64) {
	checkSector(dst, src)

	var chain [BlockSize]byte
	IV(chain[:], index)

	for off := 0; off < Size; off += BlockSize {
		out := dst[off : off+BlockSize]
		subtle.XORBytes(out, src[off:off+BlockSize], chain[:])
		c.block.Encrypt(out, out)
		copy(chain[:], out)
	}
}

// DecryptSector decrypts one sector of ciphertext from src into dst.
// dst and src must be exactly Size bytes and may be the same slice.
func (c *Cipher) DecryptSector(dst, src []byte, index uint64) {
	checkSector(dst, src)

	var chain, next [BlockSize]byte
	IV(chain[:], index)

	for off := 0; off < Size; off += BlockSize {
		// src may alias dst, keep the ciphertext block for the chain
		copy(next[:], src[off:off+BlockSize])
		out := dst[off : off+BlockSize]
		c.block.Decrypt(out, next[:])
		subtle.XORBytes(out, out, chain[:])
		chain = next
	}
}

func checkSector(dst, src []byte) {
	if len(src) != Size {
		panic("sector: input is not a whole sector")
	}
	if len(dst) != Size {
		panic("sector: output is not a whole sector")
	}
}
