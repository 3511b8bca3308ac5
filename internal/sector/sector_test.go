package sector

import (
	"bytes"
	"crypto/des"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/twofish"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestNewRejectsBadKey(t *testing.T) {
	for _, n := range []int{0, 15, 17, 33} {
		_, err := New(make([]byte, n))
		assert.ErrorIs(t, err, ErrInvalidKey, "key length %d", n)
	}

	for _, n := range []int{16, 24, 32} {
		_, err := New(make([]byte, n))
		assert.NoError(t, err, "key length %d", n)
	}
}

func TestNewWithBlock(t *testing.T) {
	short, err := des.NewCipher(make([]byte, 8))
	require.NoError(t, err)
	_, err = NewWithBlock(short)
	assert.ErrorIs(t, err, ErrInvalidKey)

	key := testKey(t)
	block, err := twofish.NewCipher(key)
	require.NoError(t, err)
	wrapped, err := NewWithBlock(block)
	require.NoError(t, err)
	direct, err := New(key)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0x42}, Size)
	a := make([]byte, Size)
	b := make([]byte, Size)
	wrapped.EncryptSector(a, plain, 9)
	direct.EncryptSector(b, plain, 9)
	assert.Equal(t, b, a)
}

func TestIV(t *testing.T) {
	tests := []struct {
		name  string
		index uint64
		want  []byte
	}{
		{"zero", 0, make([]byte, BlockSize)},
		{"one", 1, append([]byte{1}, make([]byte, BlockSize-1)...)},
		{"multi byte", 0x04030201, append([]byte{1, 2, 3, 4}, make([]byte, BlockSize-4)...)},
		{"high bits dropped", 0x1_0000_0102, append([]byte{2, 1, 0, 0}, make([]byte, BlockSize-4)...)},
		{"top byte", 0xff000000, append([]byte{0, 0, 0, 0xff}, make([]byte, BlockSize-4)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv := bytes.Repeat([]byte{0xaa}, BlockSize)
			IV(iv, tt.index)
			assert.Equal(t, tt.want, iv)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	for _, index := range []uint64{0, 1, 2, 511, 1 << 20, 0xffffffff, 1 << 40} {
		plain := make([]byte, Size)
		_, err := rand.Read(plain)
		require.NoError(t, err)

		enc := make([]byte, Size)
		c.EncryptSector(enc, plain, index)
		assert.NotEqual(t, plain, enc)

		dec := make([]byte, Size)
		c.DecryptSector(dec, enc, index)
		assert.Equal(t, plain, dec, "sector %d", index)
	}
}

func TestInPlace(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("in-place sector "), Size/16)
	buf := append([]byte(nil), plain...)

	c.EncryptSector(buf, buf, 7)
	assert.NotEqual(t, plain, buf)

	c.DecryptSector(buf, buf, 7)
	assert.Equal(t, plain, buf)
}

func TestDistinctSectorsDistinctCiphertext(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	plain := make([]byte, Size)
	seen := make(map[string]uint64)

	for index := uint64(0); index < 256; index++ {
		enc := make([]byte, Size)
		c.EncryptSector(enc, plain, index)

		prev, dup := seen[string(enc)]
		require.False(t, dup, "sectors %d and %d encrypt identically", prev, index)
		seen[string(enc)] = index
	}
}

func TestChainingWithinSector(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	// identical plaintext blocks must not repeat inside one sector
	enc := make([]byte, Size)
	c.EncryptSector(enc, make([]byte, Size), 3)

	for i := BlockSize; i < Size; i += BlockSize {
		assert.NotEqual(t, enc[i-BlockSize:i], enc[i:i+BlockSize], "block %d", i/BlockSize)
	}
}

func TestKnownAnswer(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	plain := make([]byte, Size)
	for i := range plain {
		plain[i] = byte(i * 7)
	}
	const index = 0x01020304

	block, err := twofish.NewCipher(key)
	require.NoError(t, err)

	// reference CBC with the little-endian sector IV
	want := make([]byte, Size)
	prev := []byte{4, 3, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	for off := 0; off < Size; off += BlockSize {
		tmp := make([]byte, BlockSize)
		for j := range tmp {
			tmp[j] = plain[off+j] ^ prev[j]
		}
		block.Encrypt(want[off:off+BlockSize], tmp)
		prev = want[off : off+BlockSize]
	}

	c, err := New(key)
	require.NoError(t, err)

	got := make([]byte, Size)
	c.EncryptSector(got, plain, index)
	assert.Equal(t, want, got)
}

func TestWrongSectorIndexCorruptsFirstBlockOnly(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0x5a}, Size)
	enc := make([]byte, Size)
	c.EncryptSector(enc, plain, 10)

	dec := make([]byte, Size)
	c.DecryptSector(dec, enc, 11)

	assert.NotEqual(t, plain[:BlockSize], dec[:BlockSize])
	assert.Equal(t, plain[BlockSize:], dec[BlockSize:])
}

func TestPanicsOnPartialSector(t *testing.T) {
	c, err := New(testKey(t))
	require.NoError(t, err)

	assert.Panics(t, func() { c.EncryptSector(make([]byte, Size), make([]byte, Size-1), 0) })
	assert.Panics(t, func() { c.DecryptSector(make([]byte, Size+1), make([]byte, Size), 0) })
}
