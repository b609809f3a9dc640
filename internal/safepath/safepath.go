package safepath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Within resolves target against root and returns the absolute path under
// root's real location. A relative target is taken relative to root. It
// fails when the result escapes root or when any existing component between
// root and the target, the target included, is a symlink. The target itself
// need not exist.
func Within(root, target string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("safety root is required")
	}
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("target path is required")
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root %s: %w", root, err)
	}

	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)

	rel, err := relativeTo(rootAbs, rootReal, target)
	if err != nil {
		return "", err
	}

	current := rootReal
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", current, err)
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("path contains symlink component: %s", current)
		}
	}
	return filepath.Join(rootReal, rel), nil
}

// relativeTo expresses target relative to root, accepting target spelled
// under either the given or the symlink-resolved root.
func relativeTo(rootAbs, rootReal, target string) (string, error) {
	for _, base := range []string{rootAbs, rootReal} {
		rel, err := filepath.Rel(base, target)
		if err != nil {
			continue
		}
		if rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return rel, nil
		}
	}
	return "", fmt.Errorf("path is outside safety root: %s", target)
}
