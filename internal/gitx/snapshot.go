package gitx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot copies the whole repository into dir and hard-resets the copy to
// the given commit, yielding an isolated, disposable working tree. The copy
// is private to the caller; nothing here cleans it up.
func (r *Repo) Snapshot(commit, dir string) (*Repo, error) {
	if err := copyTree(r.root, dir, false, nil); err != nil {
		return nil, err
	}
	ephem, err := Open(dir)
	if err != nil {
		return nil, err
	}
	if err := ephem.ResetHard(commit); err != nil {
		return nil, err
	}
	return ephem, nil
}

// OverlayWorkingTree mirrors the contents of srcRoot (a working tree, minus
// its .git directory) onto dstRoot: existing destination entries are removed
// first so files absent from the source show up as deletions. Nested
// repositories are flattened into ordinary directories: their .git
// directories and any .gitmodules files are dropped so their files become
// part of the destination tree. Top-level entries named in skip are left out
// of the overlay entirely.
func OverlayWorkingTree(srcRoot, dstRoot string, skip ...string) error {
	entries, err := os.ReadDir(dstRoot)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to list %q: %w", dstRoot, err)
	}
	for _, e := range entries {
		if e.Name() == ".git" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dstRoot, e.Name())); err != nil {
			return fmt.Errorf("failed to clear %q: %w", dstRoot, err)
		}
	}
	skipSet := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipSet[name] = true
	}
	return copyTree(srcRoot, dstRoot, true, skipSet)
}

func copyTree(src, dst string, flatten bool, skip map[string]bool) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}
		if skip[strings.Split(filepath.ToSlash(rel), "/")[0]] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if flatten {
			base := filepath.Base(rel)
			if base == ".git" && info.IsDir() {
				return filepath.SkipDir
			}
			if base == ".gitmodules" {
				return nil
			}
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read link %q: %w", path, err)
			}
			// Replace any stale destination entry first.
			os.Remove(target)
			if err := os.Symlink(linkTarget, target); err != nil {
				return fmt.Errorf("failed to copy link %q: %w", path, err)
			}
			return nil
		case info.IsDir():
			return os.MkdirAll(target, 0o755)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create %q: %w", filepath.Dir(dst), err)
	}
	os.Remove(dst)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %q: %w", src, err)
	}
	return out.Close()
}

// CopyFile copies a single file, creating parent directories as needed.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", src, err)
	}
	return copyFile(src, dst, info.Mode().Perm())
}
