// Package storage provides the BBolt catalog that sits next to an image.
//
// The catalog lives in <image>.lockimg and uses three buckets:
//   - config: KDF parameters (salt, iterations), image ID, sector size,
//     image length and timestamps (unencrypted)
//   - extents: named byte ranges imported into the image with their
//     SHA-256 and source path (unencrypted, for ls/status)
//   - private: the sealed password check token
//
// Nothing in the catalog is needed to decrypt a sector: the IV is derived
// from the sector index alone. The catalog only remembers how the key was
// derived and what was put where, so ls and status work without a password.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage
