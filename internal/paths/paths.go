// Package paths converts user-supplied file arguments into the
// repo-relative slash form the graph stores. Absolute paths, paths
// relative to the working directory, and already repo-relative paths
// all normalize to the same key, so commands behave the same no matter
// where they are run from.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Canonical resolves path against repoRoot and returns the
// repo-relative slash form.
//
// Absolute paths must point inside the root. Relative paths are tried
// against the working directory first and the root second; when the
// file exists in neither place the path is treated as repo-relative,
// which keeps lookups for files already pruned from disk working.
func Canonical(repoRoot, path string) (string, error) {
	if filepath.IsAbs(path) {
		return relative(repoRoot, path)
	}

	if cwd, err := os.Getwd(); err == nil {
		abs := filepath.Join(cwd, path)
		if fileExists(abs) {
			if rel, err := relative(repoRoot, abs); err == nil {
				return rel, nil
			}
			// Exists outside the root: fall through and try the
			// repo-relative reading before rejecting.
		}
	}

	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(path)))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes repository root %s", path, repoRoot)
	}
	return clean, nil
}

// relative maps an absolute path to its slash form under repoRoot.
// Symlinks are resolved on both sides so a link into the tree and its
// real location produce the same key. Paths that no longer exist,
// typically deletions under a symlinked root, are compared as given.
func relative(repoRoot, abs string) (string, error) {
	if rel, err := relUnder(resolve(repoRoot), resolve(abs)); err == nil {
		return rel, nil
	}
	return relUnder(repoRoot, abs)
}

func relUnder(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes repository root %s", target, root)
	}
	return filepath.ToSlash(rel), nil
}

func resolve(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

func fileExists(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}
