package strategy

import (
	"os"
	"path/filepath"
	"strings"

	"candlelab/internal/apperr"
)

// safeJoin resolves a user supplied path against root. Absolute paths, ".."
// segments and symlinks that lead outside root are rejected before any
// filesystem mutation happens.
func safeJoin(root, rel string) (string, error) {
	raw := strings.TrimSpace(rel)
	if raw == "" {
		return "", apperr.InvalidField("path", rel)
	}
	if filepath.IsAbs(raw) || strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, `\`) {
		return "", apperr.Validation("path escapes strategies root: %s", rel)
	}
	for _, seg := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", apperr.Validation("path escapes strategies root: %s", rel)
		}
	}
	joined := filepath.Join(root, filepath.Clean(raw))
	if joined == filepath.Clean(root) {
		return "", apperr.Validation("path must name an entry inside the strategies root: %s", rel)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "resolve strategies root", err)
	}
	resolved, err := resolveExisting(joined)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "resolve path", err)
	}
	if !within(realRoot, resolved) {
		return "", apperr.Validation("path escapes strategies root: %s", rel)
	}
	return joined, nil
}

// resolveExisting evaluates symlinks on the longest existing prefix of path
// and appends the remaining (not yet created) components.
func resolveExisting(path string) (string, error) {
	var rest []string
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(rest) - 1; i >= 0; i-- {
				real = filepath.Join(real, rest[i])
			}
			return real, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
