package paths

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("unsafe path")

// ValidateRelPath accepts forward-slash paths that stay below their root.
func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: path contains null byte", ErrUnsafePath)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return fmt.Errorf("%w: absolute path not allowed: %s", ErrUnsafePath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return fmt.Errorf(
			"%w: path resolves to current directory", ErrUnsafePath,
		)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf(
			"%w: path escapes base directory: %s", ErrUnsafePath, p,
		)
	}
	return nil
}

// Resolve maps an index path onto the local filesystem below root.
func Resolve(root, rel string) (string, error) {
	if err := ValidateRelPath(rel); err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	if !IsWithinDir(root, full) {
		return "", fmt.Errorf(
			"%w: path escapes root: %s", ErrUnsafePath, rel,
		)
	}
	return full, nil
}

// Rel is the canonical index key of full relative to root.
func Rel(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func IsWithinDir(dir, full string) bool {
	rel, err := filepath.Rel(dir, full)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." &&
		!strings.HasPrefix(rel, "../") &&
		!filepath.IsAbs(rel)
}
