package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/checksum"
	"github.com/conorfennell/decksync/internal/decktree"
	"github.com/conorfennell/decksync/internal/gitx"
	"github.com/conorfennell/decksync/internal/kirepo"
)

// Clone materializes the collection at colPath as a fresh repository in
// targetDir, records the initial checkpoint, and returns the initial commit.
// targetDir must not exist or must be empty.
func Clone(ctx context.Context, colPath, targetDir string, log *slog.Logger) (*Result, error) {
	colAbs, err := filepath.Abs(colPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection path: %w", err)
	}
	root, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}
	if entries, err := os.ReadDir(root); err == nil && len(entries) > 0 {
		return nil, &apperr.TargetExistsError{Path: root}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	col, err := anki.Open(colAbs)
	if err != nil {
		return nil, err
	}
	defer col.Close()

	res := &Result{}
	log.Info("writing note tree", "collection", colAbs, "target", root)
	overrides, err := renderOverrides(col)
	if err != nil {
		return nil, err
	}
	tree, err := decktree.WriteTree(col, root, overrides)
	if err != nil {
		return nil, err
	}
	res.Warnings.Add(tree.Warnings.Items()...)

	if err := kirepo.InitMeta(root, colAbs); err != nil {
		return nil, err
	}
	if err := gitx.WriteGitignore(root, []string{kirepo.MetaDir + "/" + kirepo.BackupsDir}); err != nil {
		return nil, err
	}

	git, err := gitx.Init(root)
	if err != nil {
		return nil, err
	}
	repo := &kirepo.Repo{Root: root, Git: git, ColPath: colAbs}

	hash, err := checksum.File(colAbs)
	if err != nil {
		return nil, err
	}
	if err := repo.AppendHash(hash, filepath.Base(colAbs)); err != nil {
		return nil, err
	}

	commit, err := git.CommitAll("Initial commit")
	if err != nil {
		return nil, err
	}

	if len(tree.PlaceholderLinks) > 0 {
		commit, err = promotePlaceholders(git, tree.PlaceholderLinks)
		if err != nil {
			return nil, err
		}
	}

	if err := git.CreateTag(kirepo.CheckpointTag, commit); err != nil {
		return nil, err
	}
	if err := repo.OverwriteLCA(colAbs); err != nil {
		return nil, err
	}

	res.Commit = commit
	res.Warnings.Report(log)
	log.Info("cloned", "commit", commit, "hash", hash)
	return res, nil
}

// promotePlaceholders records link placeholders as symlink-mode entries in
// history, stashes the resulting tree/index mismatch, and verifies nothing
// else is left dirty.
func promotePlaceholders(git *gitx.Repo, relpaths []string) (string, error) {
	if err := git.SetSymlinkModes(relpaths); err != nil {
		return "", err
	}
	commit, err := git.CommitIndex("Promote link placeholders")
	if err != nil {
		return "", err
	}
	if err := git.StashSave(); err != nil {
		return "", err
	}
	clean, err := git.IsClean()
	if err != nil {
		return "", err
	}
	if !clean {
		return "", &apperr.DirtyWorkingTreeError{Path: git.Root()}
	}
	return commit, nil
}
