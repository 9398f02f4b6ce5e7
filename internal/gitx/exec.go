package gitx

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/conorfennell/decksync/internal/apperr"
)

// runGit shells out to the git executable in the repository root. Only the
// operations go-git does not implement go through here.
func (r *Repo) runGit(args ...string) (string, error) {
	// Merge and index commits need an identity regardless of host config.
	base := []string{"-c", "user.name=decksync", "-c", "user.email=decksync@localhost"}
	cmd := exec.Command("git", append(base, args...)...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", &apperr.MissingToolError{Tool: "git", Err: err}
		}
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Merge merges the named branch into the current branch using git's own
// merge machinery, optionally with a strategy such as "ours" or "theirs".
func (r *Repo) Merge(branch, strategy string) error {
	args := []string{"merge", "--no-edit"}
	if strategy != "" {
		args = append(args, "-s", strategy)
	}
	args = append(args, branch)
	_, err := r.runGit(args...)
	return err
}

// StashSave stashes working-tree state, untracked files included.
func (r *Repo) StashSave() error {
	_, err := r.runGit("stash", "push", "--include-untracked")
	if err != nil && strings.Contains(err.Error(), "No local changes") {
		return nil
	}
	return err
}

// SetSymlinkModes rewrites the index entry of each path to the symlink mode
// (120000). Used where the filesystem cannot represent links and a
// placeholder file stands in for one: history records a link, the tree holds
// a plain file.
func (r *Repo) SetSymlinkModes(relpaths []string) error {
	for _, rel := range relpaths {
		rel = strings.ReplaceAll(rel, "\\", "/")
		hash, err := r.runGit("hash-object", "-w", rel)
		if err != nil {
			return err
		}
		spec := fmt.Sprintf("120000,%s,%s", strings.TrimSpace(hash), rel)
		if _, err := r.runGit("update-index", "--add", "--cacheinfo", spec); err != nil {
			return err
		}
	}
	return nil
}

// CommitIndex commits whatever is currently staged without re-staging the
// working tree, preserving index-only mode promotions.
func (r *Repo) CommitIndex(msg string) (string, error) {
	if _, err := r.runGit("commit", "--allow-empty", "-m", msg); err != nil {
		return "", err
	}
	return r.Head()
}
