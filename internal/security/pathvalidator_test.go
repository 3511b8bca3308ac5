package security

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestPathValidator_ValidateAndNormalize(t *testing.T) {
	// Create a temporary directory for testing
	tmpDir := t.TempDir()

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	tests := []struct {
		name      string
		input     string
		shouldErr bool
		errType   error
	}{
		// Valid paths
		{"simple file", "test.txt", false, nil},
		{"file in subdirectory", "subdir/test.txt", false, nil},
		{"nested subdirectory", "a/b/c/test.txt", false, nil},
		{"hidden file", ".img", false, nil},
		{"hidden in subdirectory", "exports/.img", false, nil},

		// Path traversal attempts
		{"parent directory", "../test.txt", true, ErrPathEscapes},
		{"parent then child", "../sibling/test.txt", true, ErrPathEscapes},
		{"nested parent", "a/../../test.txt", true, ErrPathEscapes},
		{"multiple parents", "../../etc/passwd", true, ErrPathEscapes},
		{"absolute path unix", "/etc/passwd", true, ErrAbsolutePath},

		// Empty path
		{"empty path", "", true, ErrEmptyPath},

		// Clean should normalize these
		{"dot slash", "./test.txt", false, nil},
		{"redundant slashes", "a//b///c/test.txt", false, nil},
		{"dot segments", "a/./b/./test.txt", false, nil},
	}

	// Windows-specific tests
	if runtime.GOOS == "windows" {
		tests = append(tests, []struct {
			name      string
			input     string
			shouldErr bool
			errType   error
		}{
			{"absolute path windows", "C:\\Windows\\System32\\config", true, ErrAbsolutePath},
			{"unc path", "\\\\server\\share\\file", true, ErrPathEscapes},
		}...)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.ValidateAndNormalize(tt.input)

			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error for input %q, got none", tt.input)
					return
				}
				if tt.errType != nil && !strings.Contains(err.Error(), tt.errType.Error()) {
					t.Errorf("Expected error type %v, got %v", tt.errType, err)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error for input %q: %v", tt.input, err)
					return
				}

				// Verify result uses forward slashes
				if strings.Contains(result, "\\") {
					t.Errorf("Result should use forward slashes, got %q", result)
				}

				// Verify result doesn't start with ..
				if strings.HasPrefix(result, "..") {
					t.Errorf("Result should not start with .., got %q", result)
				}

				// Verify result is not absolute
				if filepath.IsAbs(result) {
					t.Errorf("Result should not be absolute, got %q", result)
				}
			}
		})
	}
}

func TestPathValidator_Relativize(t *testing.T) {
	tmpDir := t.TempDir()

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	tests := []struct {
		name      string
		input     string
		want      string
		shouldErr bool
	}{
		{"relative unchanged", "out/file.bin", "out/file.bin", false},
		{"absolute inside", filepath.Join(validator.Root(), "a", "b.bin"), filepath.Join("a", "b.bin"), false},
		{"absolute outside", filepath.Dir(validator.Root()), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validator.Relativize(tt.input)
			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %q", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Relativize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPathValidator_CreateInRoot(t *testing.T) {
	tmpDir := t.TempDir()

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	f, err := validator.CreateInRoot("export.bin", 0600)
	if err != nil {
		t.Fatalf("CreateInRoot failed: %v", err)
	}
	if _, err := f.Write([]byte("extent bytes")); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, err := os.ReadFile(filepath.Join(tmpDir, "export.bin"))
	if err != nil {
		t.Fatalf("Failed to read back: %v", err)
	}
	if string(data) != "extent bytes" {
		t.Errorf("Content = %q", data)
	}

	// a second create truncates
	f, err = validator.CreateInRoot("export.bin", 0600)
	if err != nil {
		t.Fatalf("CreateInRoot failed: %v", err)
	}
	f.Close()
	info, err := validator.StatInRoot("export.bin")
	if err != nil {
		t.Fatalf("StatInRoot failed: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("file not truncated: size %d", info.Size())
	}

	if err := validator.RemoveInRoot("export.bin"); err != nil {
		t.Fatalf("RemoveInRoot failed: %v", err)
	}
	if _, err := validator.StatInRoot("export.bin"); !os.IsNotExist(err) {
		t.Errorf("file should be gone, got %v", err)
	}

	for _, bad := range []string{"", "../x", "/etc/passwd"} {
		if _, err := validator.CreateInRoot(bad, 0600); err == nil {
			t.Errorf("CreateInRoot(%q) should fail", bad)
		}
	}
}

func TestPathValidator_MkdirAllInRoot(t *testing.T) {
	tmpDir := t.TempDir()

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	if err := validator.MkdirAllInRoot("a/b/c", 0700); err != nil {
		t.Fatalf("MkdirAllInRoot failed: %v", err)
	}
	info, err := os.Stat(filepath.Join(tmpDir, "a", "b", "c"))
	if err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}

	// existing directories are fine
	if err := validator.MkdirAllInRoot("a/b", 0700); err != nil {
		t.Errorf("MkdirAllInRoot on existing path failed: %v", err)
	}

	if err := validator.MkdirAllInRoot("../escape", 0700); err == nil {
		t.Error("Expected error for escaping path")
	}
}

// Test that os.Root actually prevents escaping through a symlink
func TestPathValidator_ActualEscapePrevention(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	tmpDir := t.TempDir()
	outsideDir := t.TempDir()

	if err := os.Symlink(outsideDir, filepath.Join(tmpDir, "link")); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	// lexically local, but resolves outside the root
	f, err := validator.CreateInRoot("link/pwned.txt", 0644)
	if err == nil {
		f.Close()
		t.Error("Expected error when writing through a symlink out of the root")
	}

	if _, statErr := os.Stat(filepath.Join(outsideDir, "pwned.txt")); statErr == nil {
		t.Error("File was created outside the export directory")
	}
}
