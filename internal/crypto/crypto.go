package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize     = 8    // Salt size in bytes
	KeySize      = 16   // Twofish-128 sector key size
	CheckKeySize = 16   // AES-128 key for the password check token
	NonceSize    = 12   // GCM nonce size
	TagSize      = 16   // GCM authentication tag size
	DefaultIters = 1024 // Default PBKDF2 iterations
)

var (
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrInvalidSalt       = errors.New("invalid salt")
	ErrInvalidIterations = errors.New("iterations must be positive")
)

// KDF handles key derivation from passwords
type KDF struct {
	Salt       []byte
	Iterations int
}

// Keys holds everything derived from one password.
type Keys struct {
	Sector []byte // Twofish key for the image sectors
	Check  []byte // AES key for the password check token
}

// NewKDF creates a new KDF with a random salt
func NewKDF(iterations int) (*KDF, error) {
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return NewKDFWithSalt(salt, iterations)
}

// NewKDFWithSalt creates a KDF for a known salt, e.g. one read from the
// catalog or supplied on the command line.
func NewKDFWithSalt(salt []byte, iterations int) (*KDF, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidSalt, SaltSize, len(salt))
	}
	if iterations <= 0 {
		return nil, ErrInvalidIterations
	}
	return &KDF{
		Salt:       append([]byte(nil), salt...),
		Iterations: iterations,
	}, nil
}

// DeriveKeys derives the sector key and the check key in one PBKDF2 run.
func (k *KDF) DeriveKeys(password []byte) *Keys {
	out := pbkdf2.Key(password, k.Salt, k.Iterations, KeySize+CheckKeySize, sha1.New)
	return &Keys{
		Sector: out[:KeySize:KeySize],
		Check:  out[KeySize:],
	}
}

// Destroy clears both keys from memory
func (k *Keys) Destroy() {
	ClearBytes(k.Sector)
	ClearBytes(k.Check)
}

// Encryptor provides authenticated encryption
type Encryptor struct {
	key []byte
}

// NewEncryptor creates a new encryptor with the given key
func NewEncryptor(key []byte) *Encryptor {
	return &Encryptor{
		key: key,
	}
}

// Encrypt encrypts plaintext using AES-GCM
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateRandom(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Nonce is prepended to the sealed box
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts ciphertext using AES-GCM
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, ciphertext[:NonceSize], ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Destroy clears the encryptor's key from memory
func (e *Encryptor) Destroy() {
	ClearBytes(e.key)
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	clear(b)
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
