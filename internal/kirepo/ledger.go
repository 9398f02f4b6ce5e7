package kirepo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/decksync/internal/gitx"
)

// The ledger is an append-only file of `<hash>  <label>` lines, newest last.
// It is never rewritten; only appended to (and restored wholesale after a
// merge clobbers it).

// AppendHash appends a ledger line.
func (r *Repo) AppendHash(hash, label string) error {
	f, err := os.OpenFile(r.MetaPath(HashesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s  %s\n", hash, label); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	return nil
}

// LastHash returns the hash of the newest ledger line, if any.
func (r *Repo) LastHash() (string, bool, error) {
	lines, err := r.ledgerLines()
	if err != nil {
		return "", false, err
	}
	if len(lines) == 0 {
		return "", false, nil
	}
	return strings.Fields(lines[len(lines)-1])[0], true, nil
}

// IsUpToDate reports whether hash matches the ledger's newest entry.
func (r *Repo) IsUpToDate(hash string) (bool, error) {
	last, ok, err := r.LastHash()
	if err != nil {
		return false, err
	}
	return ok && last == hash, nil
}

// HashKnown reports whether hash appears anywhere in the ledger.
func (r *Repo) HashKnown(hash string) (bool, error) {
	lines, err := r.ledgerLines()
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		if strings.Fields(line)[0] == hash {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repo) ledgerLines() ([]string, error) {
	f, err := os.Open(r.MetaPath(HashesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// RestoreLedgerFrom rewrites the ledger file with its content as of the
// given commit. Used after a merge overwrites it with the checkpoint
// branch's single entry.
func (r *Repo) RestoreLedgerFrom(commit string) error {
	data, err := r.Git.ReadFileAt(commit, HashesRelPath())
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.MetaPath(HashesFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to restore ledger: %w", err)
	}
	return nil
}

// AdvanceCheckpoint moves the checkpoint tag to the given commit. The tag is
// deleted and recreated rather than moved in place, so a missing tag
// surfaces as a distinguishable error instead of silently minting a fresh,
// unrelated checkpoint.
func (r *Repo) AdvanceCheckpoint(commit string) error {
	if err := r.Git.DeleteTag(CheckpointTag); err != nil {
		return err
	}
	return r.Git.CreateTag(CheckpointTag, commit)
}

// WriteBackup copies the collection into the backups directory keyed by its
// content hash, skipping the write if a backup with that hash exists.
// Returns the backup filename and whether a new file was written.
func (r *Repo) WriteBackup(colPath, hash string) (string, bool, error) {
	ext := filepath.Ext(colPath)
	name := hash + ext
	dst := r.MetaPath(BackupsDir, name)
	if _, err := os.Stat(dst); err == nil {
		return name, false, nil
	}
	if err := gitx.CopyFile(colPath, dst); err != nil {
		return "", false, err
	}
	return name, true, nil
}

// LCAPath is the location of the last-common-ancestor collection backup.
func (r *Repo) LCAPath() string {
	return r.MetaPath(BackupsDir, LCAName)
}

// OverwriteLCA replaces the last-common-ancestor backup with the current
// collection content.
func (r *Repo) OverwriteLCA(colPath string) error {
	if err := os.Remove(r.LCAPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to drop stale lca backup: %w", err)
	}
	return gitx.CopyFile(colPath, r.LCAPath())
}
