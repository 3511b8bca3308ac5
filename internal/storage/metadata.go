package storage

import (
	"time"
)

// Extent is a named byte range of the decrypted image.
type Extent struct {
	Name    string    `json:"name"`
	Offset  int64     `json:"offset"`
	Length  int64     `json:"length"`
	Hash    string    `json:"hash"`   // hex SHA-256 of the plaintext range
	Source  string    `json:"source"` // local file it was imported from
	ModTime time.Time `json:"modTime"`
}

// End returns the offset one past the last byte of the extent.
func (e Extent) End() int64 {
	return e.Offset + e.Length
}

// Overlaps reports whether [offset, offset+length) shares a byte with e.
func (e Extent) Overlaps(offset, length int64) bool {
	if length <= 0 || e.Length <= 0 {
		return false
	}
	return offset < e.End() && e.Offset < offset+length
}

// Extents is a list of extents sortable by offset.
type Extents []Extent

func (x Extents) Len() int      { return len(x) }
func (x Extents) Swap(i, j int) { x[i], x[j] = x[j], x[i] }
func (x Extents) Less(i, j int) bool {
	if x[i].Offset != x[j].Offset {
		return x[i].Offset < x[j].Offset
	}
	return x[i].Name < x[j].Name
}

// Find finds an extent by name
func (x Extents) Find(name string) *Extent {
	for i := range x {
		if x[i].Name == name {
			return &x[i]
		}
	}
	return nil
}

// Overlapping returns the first extent that overlaps the given range
func (x Extents) Overlapping(offset, length int64) *Extent {
	for i := range x {
		if x[i].Overlaps(offset, length) {
			return &x[i]
		}
	}
	return nil
}

// NextOffset returns the first multiple of align at or after the end of
// the last extent.
func (x Extents) NextOffset(align int64) int64 {
	var end int64
	for _, e := range x {
		end = max(end, e.End())
	}
	if rem := end % align; rem != 0 {
		end += align - rem
	}
	return end
}

// Used returns the total number of bytes covered by extents.
func (x Extents) Used() int64 {
	var n int64
	for _, e := range x {
		n += e.Length
	}
	return n
}
