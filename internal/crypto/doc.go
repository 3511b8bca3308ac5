// Package crypto provides the password side of lockimg.
//
// Key derivation uses PBKDF2-HMAC-SHA1 with the parameters of existing
// images:
//   - 8-byte random salt (stored unencrypted in the catalog)
//   - 1024 iterations by default
//   - 128-bit sector key
//
// DeriveKeys asks PBKDF2 for twice the sector key length. The first half is
// the Twofish sector key and is identical to a plain 16-byte derivation, so
// images stay readable by other tools. The second half keys the AES-GCM
// Encryptor that seals the catalog's password check token.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call Keys.Destroy() and Encryptor.Destroy() when done
package crypto
