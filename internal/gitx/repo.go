// Package gitx wraps the git operations the sync pipelines need. Most run
// in-process through go-git; merge, stash, and index-mode surgery shell out
// to the git executable, whose absence is a typed error naming the tool.
package gitx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/conorfennell/decksync/internal/apperr"
)

// DefaultBranch is the branch name new repositories are initialized with.
const DefaultBranch = "main"

// Repo is an open git repository with a working tree.
type Repo struct {
	repo *git.Repository
	root string
}

// Init creates a new repository at root on DefaultBranch.
func Init(root string) (*Repo, error) {
	repo, err := git.PlainInitWithOptions(root, &git.PlainInitOptions{
		InitOptions: git.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(DefaultBranch),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init repo at %s: %w", root, err)
	}
	return &Repo{repo: repo, root: root}, nil
}

// Open opens an existing repository at root.
func Open(root string) (*Repo, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repo at %s: %w", root, err)
	}
	return &Repo{repo: repo, root: root}, nil
}

// Root returns the repository's working tree root.
func (r *Repo) Root() string { return r.root }

func signature() *object.Signature {
	return &object.Signature{
		Name:  "decksync",
		Email: "decksync@localhost",
		When:  time.Now(),
	}
}

// CommitAll stages every pending change, including deletions and untracked
// files, and commits with the given message. Returns the new commit hash.
func (r *Repo) CommitAll(msg string) (string, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author:            signature(),
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return hash.String(), nil
}

// Head returns the current HEAD commit hash.
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}

// HeadParent returns HEAD~1's commit hash.
func (r *Repo) HeadParent() (string, error) {
	head, err := r.Head()
	if err != nil {
		return "", err
	}
	commit, err := r.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return "", fmt.Errorf("failed to load HEAD commit: %w", err)
	}
	parent, err := commit.Parent(0)
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD~1: %w", err)
	}
	return parent.Hash.String(), nil
}

// ResetHard resets the working tree and index to the given commit.
func (r *Repo) ResetHard(commit string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	err = wt.Reset(&git.ResetOptions{
		Commit: plumbing.NewHash(commit),
		Mode:   git.HardReset,
	})
	if err != nil {
		return fmt.Errorf("failed to hard-reset to %s: %w", commit, err)
	}
	return nil
}

// IsClean reports whether the working tree has no pending changes.
func (r *Repo) IsClean() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("failed to read worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// CreateTag places a lightweight tag on the given commit.
func (r *Repo) CreateTag(name, commit string) error {
	_, err := r.repo.CreateTag(name, plumbing.NewHash(commit), nil)
	if err != nil {
		return fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	return nil
}

// DeleteTag removes a tag. A missing tag is a MissingTagError so callers can
// tell a lost checkpoint apart from ordinary failures.
func (r *Repo) DeleteTag(name string) error {
	err := r.repo.DeleteTag(name)
	if err == git.ErrTagNotFound {
		return &apperr.MissingTagError{Tag: name}
	}
	if err != nil {
		return fmt.Errorf("failed to delete tag %q: %w", name, err)
	}
	return nil
}

// TagCommit resolves a tag to the commit it points at.
func (r *Repo) TagCommit(name string) (string, error) {
	ref, err := r.repo.Tag(name)
	if err == git.ErrTagNotFound {
		return "", &apperr.MissingTagError{Tag: name}
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve tag %q: %w", name, err)
	}
	return ref.Hash().String(), nil
}

// CreateBranch creates a branch at the given commit and checks it out.
func (r *Repo) CreateBranch(name, commit string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Hash:   plumbing.NewHash(commit),
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create branch %q: %w", name, err)
	}
	return nil
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(name string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	})
	if err != nil {
		return fmt.Errorf("failed to checkout branch %q: %w", name, err)
	}
	return nil
}

// DeleteBranch removes a branch reference.
func (r *Repo) DeleteBranch(name string) error {
	err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name))
	if err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", name, err)
	}
	return nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (r *Repo) CurrentBranch() (string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if !ref.Name().IsBranch() {
		return "", fmt.Errorf("HEAD is detached at %s", ref.Hash())
	}
	return ref.Name().Short(), nil
}

// ReadFileAt returns the contents of a path as stored in the given commit.
func (r *Repo) ReadFileAt(commit, relpath string) ([]byte, error) {
	obj, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, fmt.Errorf("failed to load commit %s: %w", commit, err)
	}
	file, err := obj.File(filepath.ToSlash(relpath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q at %s: %w", relpath, commit, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob for %q: %w", relpath, err)
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob for %q: %w", relpath, err)
	}
	return data, nil
}

// WriteGitignore seeds the repository's ignore file.
func WriteGitignore(root string, lines []string) error {
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	}
	return nil
}
