package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/checksum"
	"github.com/conorfennell/decksync/internal/decktree"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/kirepo"
	"github.com/conorfennell/decksync/internal/parser"
	"github.com/conorfennell/decksync/internal/sqldiff"
	"github.com/conorfennell/decksync/internal/tidy"
)

// Pull re-derives the collection's changes since the checkpoint as file
// edits on a branch rooted at the checkpoint tag, then merges that branch
// into the caller's branch so the checkpoint anchors the three-way merge and
// prior local edits do not conflict.
func Pull(ctx context.Context, repoDir string, log *slog.Logger) (*Result, error) {
	repo, err := kirepo.Load(repoDir)
	if err != nil {
		return nil, err
	}
	lock, err := anki.AcquireLock(ctx, repo.ColPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	hash, err := checksum.File(repo.ColPath)
	if err != nil {
		return nil, err
	}
	upToDate, err := repo.IsUpToDate(hash)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if upToDate {
		head, err := repo.Git.Head()
		if err != nil {
			return nil, err
		}
		res.UpToDate = true
		res.Commit = head
		log.Info("nothing to pull", "hash", hash)
		return res, nil
	}

	clean, err := repo.Git.IsClean()
	if err != nil {
		return nil, err
	}
	if !clean {
		return nil, &apperr.DirtyWorkingTreeError{Path: repo.Root}
	}

	checkpoint, err := repo.Git.TagCommit(kirepo.CheckpointTag)
	if err != nil {
		return nil, err
	}
	origBranch, err := repo.Git.CurrentBranch()
	if err != nil {
		return nil, err
	}
	preMerge, err := repo.Git.Head()
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "decksync-pull-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	curCopy := filepath.Join(tmp, "cur.anki2")
	if err := copyInto(repo.ColPath, curCopy); err != nil {
		return nil, err
	}
	curCol, err := anki.Open(curCopy)
	if err != nil {
		return nil, err
	}
	defer curCol.Close()

	lcaCol, err := anki.Open(repo.LCAPath())
	if err != nil {
		return nil, err
	}
	changes, err := sqldiff.Collections(lcaCol, curCol)
	lcaCol.Close()
	if err != nil {
		return nil, err
	}

	branch := fmt.Sprintf("pull-%.8s", hash)
	if err := repo.Git.CreateBranch(branch, checkpoint); err != nil {
		return nil, err
	}

	if err := applyChanges(repo, curCol, changes, &res.Warnings); err != nil {
		return nil, err
	}

	label := filepath.Base(repo.ColPath)
	if _, err := repo.Git.CommitAll(fmt.Sprintf("Pull %s", label)); err != nil {
		return nil, err
	}
	branchCommit, err := repo.Git.Head()
	if err != nil {
		return nil, err
	}

	if err := repo.Git.Checkout(origBranch); err != nil {
		return nil, err
	}
	if err := repo.Git.Merge(branch, ""); err != nil {
		return nil, err
	}
	if err := repo.Git.DeleteBranch(branch); err != nil {
		return nil, err
	}

	// The merge carried over the checkpoint branch's single-entry ledger;
	// restore the full one and record the pulled state.
	if err := repo.RestoreLedgerFrom(preMerge); err != nil {
		return nil, err
	}
	if err := repo.AppendHash(hash, label); err != nil {
		return nil, err
	}

	now, err := checksum.File(repo.ColPath)
	if err != nil {
		return nil, err
	}
	if now != hash {
		return nil, &apperr.ChecksumChangedError{Path: repo.ColPath}
	}

	commit, err := repo.Git.CommitAll("Update checkpoint ledger")
	if err != nil {
		return nil, err
	}
	if err := repo.AdvanceCheckpoint(branchCommit); err != nil {
		return nil, err
	}
	if err := repo.OverwriteLCA(repo.ColPath); err != nil {
		return nil, err
	}

	res.Commit = commit
	res.Warnings.Report(log)
	log.Info("pulled", "commit", commit, "hash", hash,
		"notes", len(changes.Notes), "notetypes", len(changes.Notetypes), "decks", len(changes.Decks))
	return res, nil
}

// applyChanges edits the checked-out checkpoint branch to match the current
// collection state.
func applyChanges(repo *kirepo.Repo, curCol *anki.Collection, changes *sqldiff.Changes, warnings *apperr.Warnings) error {
	root := repo.Root

	if len(changes.Notetypes) > 0 {
		nts, err := curCol.Notetypes()
		if err != nil {
			return err
		}
		if err := decktree.WriteModels(nts, root); err != nil {
			return err
		}
	}

	for _, dc := range changes.Decks {
		if dc.Op == sqldiff.OpAdd {
			if err := os.MkdirAll(filepath.Join(root, deckDirPath(dc.Name)), 0o755); err != nil {
				return fmt.Errorf("failed to create deck directory: %w", err)
			}
		}
	}

	index, err := noteIndex(root, warnings)
	if err != nil {
		return err
	}

	changed := map[int64]domain.ColNote{}
	for _, nc := range changes.Notes {
		if nc.Op != sqldiff.OpDelete {
			changed[nc.Note.NID] = nc.Note
		}
	}
	overrides, err := tidy.Fields(changed)
	if err != nil {
		return err
	}

	for _, nc := range changes.Notes {
		switch nc.Op {
		case sqldiff.OpDelete:
			if path, ok := index[nc.GUID]; ok {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("failed to remove note file: %w", err)
				}
			}
		case sqldiff.OpUpdate:
			// The file's directory tracks the deck and its name tracks the
			// sort field, so an updated note is re-homed at its canonical
			// path rather than rewritten in place.
			if path, ok := index[nc.GUID]; ok {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("failed to remove note file: %w", err)
				}
			}
			fallthrough
		case sqldiff.OpAdd:
			deckDir := filepath.Join(root, deckDirPath(deckOrDefault(nc.Deck)))
			if _, err := decktree.WriteNote(nc.Note, nc.Notetype, deckDir, overrides); err != nil {
				return err
			}
		}
	}

	for _, dc := range changes.Decks {
		if dc.Op != sqldiff.OpDelete {
			continue
		}
		dir := filepath.Join(root, deckDirPath(dc.Name))
		remaining, err := dirHasNotes(dir)
		if err != nil {
			return err
		}
		if remaining {
			// A surviving subdeck or relocated note still lives here.
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove deck directory: %w", err)
		}
	}
	return nil
}

// dirHasNotes reports whether any note files remain under dir.
func dirHasNotes(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if !d.IsDir() && parser.IsNoteFile(path) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to scan deck directory: %w", err)
	}
	return found, nil
}

func deckDirPath(fullname string) string {
	return filepath.FromSlash(strings.ReplaceAll(fullname, "::", "/"))
}

func deckOrDefault(name string) string {
	if name == "" {
		return "Default"
	}
	return name
}
