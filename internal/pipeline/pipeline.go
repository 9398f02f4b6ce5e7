// Package pipeline orchestrates the clone, pull, and push reconciliation
// passes between a collection and its cloned repository.
package pipeline

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/guid"
	"github.com/conorfennell/decksync/internal/kirepo"
	"github.com/conorfennell/decksync/internal/parser"
	"github.com/conorfennell/decksync/internal/tidy"
)

// Result summarizes one reconciliation pass.
type Result struct {
	// UpToDate is set when the pass found nothing to reconcile and stopped
	// without mutating anything.
	UpToDate bool
	// Commit is the repository commit the pass ended on.
	Commit string
	// Backup names the collection backup written by a push, when one was.
	Backup string
	// Warnings are the non-fatal conditions collected along the way.
	Warnings apperr.Warnings
}

func collectionNotes(col *anki.Collection) (map[int64]domain.ColNote, error) {
	nids, err := col.NoteIDs()
	if err != nil {
		return nil, err
	}
	notes := make(map[int64]domain.ColNote, len(nids))
	for _, nid := range nids {
		note, err := col.GetNote(nid)
		if err != nil {
			return nil, err
		}
		notes[nid] = note
	}
	return notes, nil
}

// renderOverrides reformats the collection's HTML fields so rendered note
// files carry stable formatting across round trips.
func renderOverrides(col *anki.Collection) (map[string]string, error) {
	notes, err := collectionNotes(col)
	if err != nil {
		return nil, err
	}
	return tidy.Fields(notes)
}

// noteIndex maps every parsable note file under root by guid. Unparsable
// files surface as warnings, not errors.
func noteIndex(root string, warnings *apperr.Warnings) (map[string]string, error) {
	index := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == kirepo.MetaDir || name == kirepo.MediaDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !parser.IsNoteFile(path) {
			return nil
		}
		note, err := parser.ParseFile(path)
		if err != nil {
			warnings.Add(apperr.UnparsableNote{Path: path})
			return nil
		}
		if note.GUID == "" {
			note.GUID = guid.Derive(note.FieldTexts())
		}
		index[note.GUID] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to index note files: %w", err)
	}
	return index, nil
}

// readModels loads a models manifest, keyed by notetype name.
func readModels(path string) (map[string]domain.Notetype, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read models file %q: %w", path, err)
	}
	models := map[string]domain.Notetype{}
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to decode models file %q: %w", path, err)
	}
	return models, nil
}

// replaceFile atomically swaps dst's content for src's by staging a copy
// next to dst and renaming over it.
func replaceFile(src, dst string) error {
	staged := dst + ".new"
	if err := copyInto(src, staged); err != nil {
		return err
	}
	if err := os.Rename(staged, dst); err != nil {
		os.Remove(staged)
		return fmt.Errorf("failed to replace %q: %w", dst, err)
	}
	return nil
}

func copyInto(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %q: %w", dst, err)
	}
	return nil
}

// nidMinter hands out fresh note ids, millisecond-epoch based like the
// database engine's own, skipping ids already taken.
type nidMinter struct {
	taken map[int64]bool
	next  int64
}

func newNIDMinter(existing map[string]domain.NoteMetadata) *nidMinter {
	m := &nidMinter{taken: map[int64]bool{}, next: time.Now().UnixMilli()}
	for _, meta := range existing {
		m.taken[meta.NID] = true
	}
	return m
}

func (m *nidMinter) mint() int64 {
	for m.taken[m.next] {
		m.next++
	}
	m.taken[m.next] = true
	return m.next
}
