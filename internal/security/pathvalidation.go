// Package security validates user-supplied paths and file names before the
// panel writes uploads or hands directories to the reconstruction tool.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEmptyPath is returned when a required path is blank.
var ErrEmptyPath = errors.New("path is empty")

// canonical resolves p to an absolute path with symlinks evaluated. When p
// does not exist yet, the nearest existing ancestor is resolved and the
// remaining components are re-attached, so a dangling path below a symlinked
// directory still resolves to where it would really be created.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := abs; ; {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, abs)
			return filepath.Join(resolved, rel), nil
		}
		dir = parent
	}
}

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir,
// following symlinks on both sides.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	target, err := canonical(filePath)
	if err != nil {
		return err
	}
	absSafe, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}
	root, err := filepath.EvalSymlinks(absSafe)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, target)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// ValidatePathWithinAllowedDirs checks that filePath is inside at least one
// of allowedDirs.
func ValidatePathWithinAllowedDirs(filePath string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("no allowed directories specified")
	}
	for _, dir := range allowedDirs {
		if err := ValidatePathWithinDirectory(filePath, dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("path must be within one of the allowed directories: %v", allowedDirs)
}

// ValidateOutputDir checks a reconstruction output directory typed into the
// panel. An empty allowed list accepts any directory; otherwise the
// directory must live under one of the allowed roots.
func ValidateOutputDir(dir string, allowedRoots []string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", ErrEmptyPath
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}
	if len(allowedRoots) == 0 {
		return abs, nil
	}
	if err := ValidatePathWithinAllowedDirs(abs, allowedRoots); err != nil {
		return "", err
	}
	return abs, nil
}

// SanitizeFilename makes a safe file name from an uploaded name. Characters
// other than ASCII letters, digits, dot, underscore and dash become a single
// underscore, leading dots and underscores are trimmed and the result is
// capped at 128 bytes. Directory components are discarded first.
func SanitizeFilename(s string) string {
	s = filepath.Base(strings.ReplaceAll(s, "\\", "/"))
	if s == "" || s == "." || s == "/" {
		return "unknown"
	}
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || !lastUnderscore:
			if r == '_' && lastUnderscore {
				continue
			}
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
