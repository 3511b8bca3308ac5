// Package core provides the image operations behind the lockimg commands.
//
// An Image is a sector-encrypted file plus its catalog (<image>.lockimg).
// Core operations include:
//   - Create: Write a zeroed image and a catalog with a fresh salt
//   - Import/Export/Cat: Move plaintext in and out through the block channel
//   - Verify/Diff/Status: Compare extents against their recorded hashes
//     and against the local files they came from
//   - Resize: Change the image length, zeroing every sector
//   - ChangePassword: Re-encrypt every sector under a new key
//
// Every operation that needs a password derives the key from the catalog's
// salt and checks it against the sealed check token before touching a sector.
package core
