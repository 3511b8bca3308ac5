// Package blockdev exposes a sector-encrypted file as a random-access device.
//
// A Channel owns a raw Storage handle and a sector.Cipher. Callers read and
// write arbitrary byte ranges; the channel maps them onto whole 512-byte
// sectors:
//   - aligned interior sectors are decrypted straight into the caller's buffer
//   - a misaligned head or partial tail sector goes through a scratch sector
//   - partial writes read the affected sectors back before anything is written
//
// The medium only ever sees whole-sector writes. Requests that extend past
// Len fail with ErrOutOfRange, there are no short reads or writes.
//
// A Channel is not safe for concurrent use. It assumes nobody else writes
// the underlying file while it is open.
package blockdev
