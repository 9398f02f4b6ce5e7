package gitx

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/conorfennell/decksync/internal/domain"
)

// Change is a single path-level change between two commits. From is empty
// for additions, To for deletions; a rename carries both.
type Change struct {
	Status domain.ChangeType
	From   string
	To     string
}

// Diff compares two commits tree-to-tree with rename detection enabled and
// returns path-level changes.
func (r *Repo) Diff(oldCommit, newCommit string) ([]Change, error) {
	oldTree, err := r.treeAt(oldCommit)
	if err != nil {
		return nil, err
	}
	newTree, err := r.treeAt(newCommit)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(
		context.Background(), oldTree, newTree,
		&object.DiffTreeOptions{DetectRenames: true},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", oldCommit, newCommit, err)
	}

	out := make([]Change, 0, len(changes))
	for _, ch := range changes {
		from, to := ch.From.Name, ch.To.Name
		switch {
		case from == "":
			out = append(out, Change{Status: domain.Added, To: to})
		case to == "":
			out = append(out, Change{Status: domain.Deleted, From: from})
		case from != to:
			out = append(out, Change{Status: domain.Renamed, From: from, To: to})
		default:
			status := domain.Modified
			if ch.From.TreeEntry.Mode != ch.To.TreeEntry.Mode &&
				(ch.From.TreeEntry.Mode == filemode.Symlink || ch.To.TreeEntry.Mode == filemode.Symlink) {
				status = domain.TypeChanged
			}
			out = append(out, Change{Status: status, From: from, To: to})
		}
	}
	return out, nil
}

func (r *Repo) treeAt(commit string) (*object.Tree, error) {
	obj, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", commit, err)
	}
	tree, err := obj.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", commit, err)
	}
	return tree, nil
}
