// Package diff classifies note-file changes between two snapshots of the
// repository into Deltas the push pipeline can apply.
package diff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/gitx"
	"github.com/conorfennell/decksync/internal/guid"
	"github.com/conorfennell/decksync/internal/kirepo"
	"github.com/conorfennell/decksync/internal/parser"
)

var (
	ignoreDirs  = map[string]bool{".git": true, kirepo.MetaDir: true, kirepo.MediaDir: true}
	ignoreFiles = map[string]bool{".gitignore": true, ".gitmodules": true, kirepo.ModelsFile: true}
)

// Result is a classified diff: the deltas to apply, non-fatal warnings, and
// a cache of the notes parsed while disambiguating renames, keyed by
// absolute path for reuse in the apply phase.
type Result struct {
	Deltas   []domain.Delta
	Warnings []apperr.Warning
	Parsed   map[string]domain.DeckNote
}

// Deltas diffs two commits and classifies each changed path. oldRoot must be
// a working tree checked out at oldCommit; newRoot one at newCommit.
func Deltas(repo *gitx.Repo, oldCommit, newCommit, oldRoot, newRoot string) (Result, error) {
	changes, err := repo.Diff(oldCommit, newCommit)
	if err != nil {
		return Result{}, err
	}

	res := Result{Parsed: make(map[string]domain.DeckNote)}
	for _, ch := range changes {
		oldRel, newRel := ch.From, ch.To
		if oldRel == "" {
			oldRel = newRel
		}
		if newRel == "" {
			newRel = oldRel
		}
		oldAbs := filepath.Join(oldRoot, filepath.FromSlash(oldRel))
		newAbs := filepath.Join(newRoot, filepath.FromSlash(newRel))

		oldIgn := ignorable(oldRoot, oldRel)
		newIgn := ignorable(newRoot, newRel)
		if oldIgn && newIgn {
			continue
		}
		if ch.Status == domain.Renamed && (oldIgn || newIgn) {
			// The content heuristic paired a note file with a reserved
			// path; only the note-file side carries a real change.
			if !oldIgn {
				if isFile(oldAbs) {
					res.Deltas = append(res.Deltas, domain.Delta{Status: domain.Deleted, Path: oldAbs, RelPath: oldRel})
				} else {
					res.Warnings = append(res.Warnings, apperr.DeletedFileNotFound{Path: oldRel})
				}
			}
			if !newIgn {
				if isFile(newAbs) {
					res.Deltas = append(res.Deltas, domain.Delta{Status: domain.Added, Path: newAbs, RelPath: newRel})
				} else {
					res.Warnings = append(res.Warnings, apperr.DiffTargetNotFound{Path: newRel})
				}
			}
			continue
		}
		if oldIgn || newIgn {
			continue
		}

		if ch.Status == domain.Deleted {
			if !isFile(oldAbs) {
				res.Warnings = append(res.Warnings, apperr.DeletedFileNotFound{Path: oldRel})
				continue
			}
			res.Deltas = append(res.Deltas, domain.Delta{Status: domain.Deleted, Path: oldAbs, RelPath: oldRel})
			continue
		}
		if !isFile(newAbs) {
			res.Warnings = append(res.Warnings, apperr.DiffTargetNotFound{Path: newRel})
			continue
		}
		if ch.Status == domain.Renamed {
			// The rename heuristic is content-based; only matching guids
			// prove the two sides are the same note. A parse failure here
			// blocks a structural decision, so it is fatal.
			oldNote, err := ParseNoteFile(oldAbs, oldRel, &res)
			if err != nil {
				return Result{}, fmt.Errorf("rename disambiguation: %w", err)
			}
			newNote, err := ParseNoteFile(newAbs, newRel, &res)
			if err != nil {
				return Result{}, fmt.Errorf("rename disambiguation: %w", err)
			}
			if oldNote.GUID != newNote.GUID {
				res.Deltas = append(res.Deltas,
					domain.Delta{Status: domain.Deleted, Path: oldAbs, RelPath: oldRel},
					domain.Delta{Status: domain.Added, Path: newAbs, RelPath: newRel},
				)
				continue
			}
		}
		res.Deltas = append(res.Deltas, domain.Delta{Status: ch.Status, Path: newAbs, RelPath: newRel})
	}
	return res, nil
}

// ParseNoteFile parses a note file, derives its deck from the path and its
// guid from field content when blank, and memoizes the result in res.
func ParseNoteFile(absPath, relPath string, res *Result) (domain.DeckNote, error) {
	if note, ok := res.Parsed[absPath]; ok {
		return note, nil
	}
	note, err := parser.ParseFile(absPath)
	if err != nil {
		return domain.DeckNote{}, err
	}
	note.Deck = deckFromRelPath(relPath)
	if note.GUID == "" {
		note.GUID = guid.Derive(note.FieldTexts())
	}
	res.Parsed[absPath] = note
	return note, nil
}

func deckFromRelPath(rel string) string {
	dir := filepath.Dir(filepath.FromSlash(rel))
	if dir == "." {
		return ""
	}
	return strings.ReplaceAll(dir, string(filepath.Separator), "::")
}

// ignorable filters diff paths that cannot be note files: reserved names,
// anything under a reserved directory, and extant files that fail the note
// recognition check.
func ignorable(root, rel string) bool {
	base := filepath.Base(filepath.FromSlash(rel))
	if ignoreFiles[base] || ignoreDirs[base] {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if ignoreDirs[part] {
			return true
		}
	}
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if isFile(abs) && !parser.IsNoteFile(abs) {
		return true
	}
	return false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
