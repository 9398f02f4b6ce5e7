package decktree

import (
	"fmt"
	"os"
	"path/filepath"
)

// LinkIntent is a link that should exist at Path pointing at Target. How it
// is materialized depends on platform capability: a real symlink where the
// filesystem supports them, otherwise a plain placeholder file holding the
// relative target path, flagged for promotion to link mode in the git index.
type LinkIntent struct {
	Path   string
	Target string
}

// Materialize creates the link and reports whether a placeholder was written
// instead of a real symlink.
func (l LinkIntent) Materialize() (placeholder bool, err error) {
	rel, err := filepath.Rel(filepath.Dir(l.Path), l.Target)
	if err != nil {
		return false, fmt.Errorf("failed to relativize link target %q: %w", l.Target, err)
	}
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create link directory: %w", err)
	}
	if err := os.Symlink(rel, l.Path); err == nil {
		return false, nil
	}
	// No symlink support on this filesystem; a plain file with the target
	// path stands in, and the caller records it for index-mode promotion.
	if err := os.WriteFile(l.Path, []byte(filepath.ToSlash(rel)), 0o644); err != nil {
		return false, fmt.Errorf("failed to write link placeholder %q: %w", l.Path, err)
	}
	return true, nil
}
