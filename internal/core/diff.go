package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	BinarySampleSize   = 8192            // Bytes to sample for text/binary detection
	BinaryThresholdPct = 10              // Max % non-printable chars for text files
	MaxDiffSize        = 4 * 1024 * 1024 // Larger extents are only compared by hash
)

// DetectFileType determines if data is likely text or binary.
// Returns true if the data appears to be text.
//
// Detection heuristic (in order):
//  1. Null bytes present → binary (executables, images, etc.)
//  2. Invalid UTF-8 → binary
//  3. >10% non-printable control chars → binary
func DetectFileType(data []byte) bool {
	if len(data) == 0 {
		return true
	}

	if bytes.IndexByte(data, 0) != -1 {
		return false
	}

	sample := data[:min(len(data), BinarySampleSize)]
	if !utf8.Valid(sample) {
		return false
	}

	nonPrintable := 0
	for _, b := range sample {
		// Allow common whitespace: space, tab, newline, carriage return
		if b < 32 && b != 9 && b != 10 && b != 13 {
			nonPrintable++
		}
		if b == 127 {
			nonPrintable++
		}
	}

	threshold := len(sample) * BinaryThresholdPct / 100
	return nonPrintable <= threshold
}

// CompareContents checks if two contents are identical (based on SHA-256 hash)
func CompareContents(a, b []byte) bool {
	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	return bytes.Equal(ha[:], hb[:])
}

// GenerateUnifiedDiff generates a patch-style diff from the image bytes to
// the local bytes. Binary content is diffed as a hex dump.
// Returns the diff output, or empty string if contents are identical.
func GenerateUnifiedDiff(name string, imageData, localData []byte) (string, error) {
	if CompareContents(imageData, localData) {
		return "", nil
	}

	var a, b string
	if DetectFileType(imageData) && DetectFileType(localData) {
		a, b = string(imageData), string(localData)
	} else {
		a, b = hex.Dump(imageData), hex.Dump(localData)
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for better output
	ca, cb, lineArray := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(ca, cb, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	patches := dmp.PatchMake(a, diffs)
	if len(patches) == 0 {
		return "", nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "--- image/%s\n", name)
	fmt.Fprintf(&result, "+++ local/%s\n", name)
	result.WriteString(dmp.PatchToText(patches))

	return result.String(), nil
}

// Diff compares every extent with the local file it was imported from and
// writes the differences to w. It reports whether anything differed.
func (img *Image) Diff(ctx context.Context, password []byte, w io.Writer) (bool, error) {
	s, err := img.unlock(password, true)
	if err != nil {
		return false, err
	}
	defer s.Close()

	extents, err := s.db.ListExtents()
	if err != nil {
		return false, err
	}

	hasChanges := false
	for _, e := range extents {
		if err := ctx.Err(); err != nil {
			return hasChanges, err
		}

		local, err := os.ReadFile(e.Source)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Fprintf(w, "File not found locally: %s (%s)\n", e.Name, e.Source)
			} else {
				fmt.Fprintf(w, "error: cannot read %s: %v\n", e.Source, err)
			}
			hasChanges = true
			continue
		}

		if e.Length > MaxDiffSize || int64(len(local)) > MaxDiffSize {
			sum := sha256.Sum256(local)
			if hex.EncodeToString(sum[:]) != e.Hash {
				fmt.Fprintf(w, "Extent %s differs from %s\n", e.Name, e.Source)
				hasChanges = true
			}
			continue
		}

		data := make([]byte, e.Length)
		if _, err := s.ch.ReadAt(data, e.Offset); err != nil {
			return hasChanges, fmt.Errorf("failed to read %s: %w", e.Name, err)
		}

		diff, err := GenerateUnifiedDiff(e.Name, data, local)
		clear(data)
		clear(local)
		if err != nil {
			return hasChanges, err
		}
		if diff != "" {
			fmt.Fprint(w, diff)
			hasChanges = true
		}
	}

	if !hasChanges {
		fmt.Fprintln(w, "No changes detected")
	}
	return hasChanges, nil
}
