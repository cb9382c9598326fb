// Package pathres resolves caller-supplied paths against a workspace root and
// proves the result cannot leave that root. The check is purely lexical (no
// filesystem lookups), so the same logic serves local, remote, and in-memory
// backends and is unaffected by symlinks that exist only on a real disk.
package pathres

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEscape is the sentinel wrapped by every boundary violation.
var ErrEscape = errors.New("path escapes workspace boundary")

// NormalizeRoot cleans and absolutizes a workspace root.
func NormalizeRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("workspace root directory is empty")
	}
	clean := filepath.Clean(root)
	if !filepath.IsAbs(clean) {
		abs, err := filepath.Abs(clean)
		if err != nil {
			return "", fmt.Errorf("failed to resolve absolute root: %w", err)
		}
		clean = abs
	}
	return clean, nil
}

// Resolve validates rel against root and returns the canonical absolute path.
// Empty and "." inputs resolve to root itself. Absolute inputs, home-directory
// markers, and traversal sequences that climb above root all fail with
// ErrEscape; the result is never silently clamped to root.
func Resolve(root, rel string) (string, error) {
	normalizedRoot, err := NormalizeRoot(root)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" || trimmed == "." {
		return normalizedRoot, nil
	}
	if filepath.IsAbs(trimmed) {
		return "", fmt.Errorf("%w: absolute path %q", ErrEscape, rel)
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") || strings.HasPrefix(trimmed, "~\\") {
		return "", fmt.Errorf("%w: home directory reference %q", ErrEscape, rel)
	}
	resolved := filepath.Clean(filepath.Join(normalizedRoot, trimmed))
	if err := ensureDescendant(normalizedRoot, resolved); err != nil {
		return "", fmt.Errorf("%w: %q", ErrEscape, rel)
	}
	return resolved, nil
}

// EnsureWithinRoot verifies that an already-absolute candidate path is root or
// a descendant of root. Used for absolute working-directory overrides.
func EnsureWithinRoot(root, candidate string) error {
	normalizedRoot, err := NormalizeRoot(root)
	if err != nil {
		return err
	}
	cleaned := filepath.Clean(candidate)
	if !filepath.IsAbs(cleaned) {
		return fmt.Errorf("%w: %q is not absolute", ErrEscape, candidate)
	}
	if err := ensureDescendant(normalizedRoot, cleaned); err != nil {
		return fmt.Errorf("%w: %q", ErrEscape, candidate)
	}
	return nil
}

// RelativeWithinRoot translates an absolute path that already lies inside
// root into its root-relative form. It returns ok=false when the path is not
// absolute or falls outside root.
func RelativeWithinRoot(root, candidate string) (string, bool) {
	if !filepath.IsAbs(candidate) {
		return "", false
	}
	normalizedRoot, err := NormalizeRoot(root)
	if err != nil {
		return "", false
	}
	cleaned := filepath.Clean(candidate)
	if cleaned == normalizedRoot {
		return ".", true
	}
	prefix := normalizedRoot + string(filepath.Separator)
	if strings.HasPrefix(cleaned, prefix) {
		return cleaned[len(prefix):], true
	}
	return "", false
}

// Join validates rel against a boundary that may itself be relative (a scope
// path) and returns the boundary-joined form. The same rejection rules as
// Resolve apply; the boundary is never absolutized, so the caller can hand
// the result to a parent backend for independent re-validation.
func Join(boundary, rel string) (string, error) {
	cleanBoundary := filepath.Clean(strings.TrimRight(boundary, "/\\"))
	trimmed := strings.TrimSpace(rel)
	if trimmed == "" || trimmed == "." {
		return cleanBoundary, nil
	}
	if filepath.IsAbs(trimmed) {
		return "", fmt.Errorf("%w: absolute path %q", ErrEscape, rel)
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") || strings.HasPrefix(trimmed, "~\\") {
		return "", fmt.Errorf("%w: home directory reference %q", ErrEscape, rel)
	}
	joined := filepath.Clean(filepath.Join(cleanBoundary, trimmed))
	if err := ensureDescendant(cleanBoundary, joined); err != nil {
		return "", fmt.Errorf("%w: %q", ErrEscape, rel)
	}
	return joined, nil
}

func ensureDescendant(root, resolved string) error {
	if resolved == root {
		return nil
	}
	if strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return nil
	}
	return ErrEscape
}
