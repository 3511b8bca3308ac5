package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes export directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
)

// PathValidator confines file creation to one directory tree using
// Go 1.24's os.Root API. Extent names come from the catalog, which is not
// authenticated, so they are never trusted as paths.
type PathValidator struct {
	root     *os.Root
	rootPath string
}

// New creates a PathValidator for the directory at the given path.
func New(rootPath string) (*PathValidator, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open export root: %w", err)
	}

	return &PathValidator{
		root:     root,
		rootPath: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// Root returns the absolute path of the confining directory.
func (pv *PathValidator) Root() string {
	return pv.rootPath
}

// ValidateAndNormalize validates a user-provided path and returns a normalized
// relative path. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the root (using ..)
// - Windows reserved names (CON, NUL, etc.)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)

	relPath, err := filepath.Rel(pv.rootPath, filepath.Join(pv.rootPath, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// Relativize turns an absolute path inside the root into a relative one.
// Relative paths are returned unchanged.
func (pv *PathValidator) Relativize(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return path, nil
	}
	rel, err := filepath.Rel(pv.rootPath, path)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, path)
	}
	return rel, nil
}

// CreateInRoot creates or truncates a file within the root for writing.
func (pv *PathValidator) CreateInRoot(path string, perm os.FileMode) (*os.File, error) {
	platformPath, err := pv.validate(path)
	if err != nil {
		return nil, err
	}
	return pv.root.OpenFile(platformPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
}

// MkdirAllInRoot creates path and any missing parents within the root.
func (pv *PathValidator) MkdirAllInRoot(path string, perm os.FileMode) error {
	platformPath, err := pv.validate(path)
	if err != nil {
		return err
	}

	dir := ""
	for _, part := range strings.Split(platformPath, string(filepath.Separator)) {
		dir = filepath.Join(dir, part)
		if err := pv.root.Mkdir(dir, perm); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

// RemoveInRoot removes a file within the root.
func (pv *PathValidator) RemoveInRoot(path string) error {
	platformPath, err := pv.validate(path)
	if err != nil {
		return err
	}
	return pv.root.Remove(platformPath)
}

// StatInRoot stats a file within the root.
func (pv *PathValidator) StatInRoot(path string) (os.FileInfo, error) {
	platformPath, err := pv.validate(path)
	if err != nil {
		return nil, err
	}
	return pv.root.Stat(platformPath)
}

func (pv *PathValidator) validate(path string) (string, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	return filepath.Clean(platformPath), nil
}
