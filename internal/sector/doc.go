// Package sector encrypts and decrypts single 512-byte sectors.
//
// Each sector is encrypted independently with Twofish in CBC mode:
//   - the IV is the low 32 bits of the sector index, little-endian,
//     zero-extended to the 16-byte cipher block
//   - every ciphertext block chains into the next block of the same sector
//   - nothing carries over from one sector to the next
//
// This matches the "plain" IV layout used by dm-crypt style images, so
// any sector can be decrypted from a freshly opened file without extra metadata.
// The mode is not authenticated: flipped ciphertext bits decrypt to garbage
// rather than an error.
package sector
