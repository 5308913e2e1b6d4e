package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrEscapesRoot is returned when a path would resolve outside the project root.
var ErrEscapesRoot = errors.New("path escapes project root")

// ResolveWithinRoot resolves path against root and verifies containment.
// Relative paths are joined to root; absolute paths are used as-is. The
// resolved path is cleaned and absolutized, then must equal root or sit under
// root followed by a path separator. Any path that would escape returns
// ErrEscapesRoot before the caller performs filesystem I/O.
//
// Containment is re-validated on every call; there is no "already validated"
// cache, since validation is cheap and a missed check is a sandbox escape.
func ResolveWithinRoot(root, path string) (string, error) {
	if root == "" {
		return "", errors.New("project root is required")
	}
	if path == "" {
		return "", errors.New("path is required")
	}
	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(absRoot, p)
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if abs != absRoot && !strings.HasPrefix(abs, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, path)
	}
	return abs, nil
}
