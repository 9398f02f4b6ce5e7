package decktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/gitx"
	"github.com/conorfennell/decksync/internal/kirepo"
	"github.com/conorfennell/decksync/internal/media"
)

// notetypeNID keys media referenced by notetype templates rather than by a
// specific note.
const notetypeNID = -57

// copyMediaFiles copies every attachment referenced by a note field or a
// notetype template from the collection's media store into the repository's
// top-level media directory. Returns a map from note id (or notetypeNID) to
// the names copied for it.
func copyMediaFiles(col *anki.Collection, notes map[int64]domain.ColNote, targetDir string) (map[int64][]string, error) {
	mediaDir, err := col.MediaDir()
	if err != nil {
		return nil, err
	}
	target := filepath.Join(targetDir, kirepo.MediaDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}

	refs := make(map[int64][]string)
	copied := make(map[string]bool)
	copyOne := func(nid int64, name string) error {
		src := filepath.Join(mediaDir, name)
		if info, err := os.Stat(src); err != nil || info.IsDir() {
			return nil
		}
		if !copied[name] {
			if err := gitx.CopyFile(src, filepath.Join(target, name)); err != nil {
				return err
			}
			copied[name] = true
		}
		refs[nid] = append(refs[nid], name)
		return nil
	}

	usedMIDs := make(map[int64]bool)
	for nid, note := range notes {
		usedMIDs[note.MID] = true
		for _, f := range note.Fields {
			for _, name := range media.Filenames(f.Text) {
				if err := copyOne(nid, name); err != nil {
					return nil, err
				}
			}
		}
	}

	// Notetype template media: files in the store whose names start with an
	// underscore, referenced from css or templates.
	stored, err := col.MediaFiles()
	if err != nil {
		return nil, err
	}
	notetypes, err := col.Notetypes()
	if err != nil {
		return nil, err
	}
	for _, name := range stored {
		if !strings.HasPrefix(name, "_") {
			continue
		}
		for _, nt := range notetypes {
			if usedMIDs[nt.ID] && media.NotetypeReferences(nt, name) {
				if err := copyOne(notetypeNID, name); err != nil {
					return nil, err
				}
				break
			}
		}
	}
	return refs, nil
}

// chainMediaLinks creates the per-deck media link chains: each consuming
// deck's `_media/<name>` points at its parent's, terminating at the real
// file in the repository root's media directory. Returns placeholder link
// paths (relative to targetDir) that need index-mode promotion.
func chainMediaLinks(col *anki.Collection, root *domain.Deck, targetDir string, refs map[int64][]string) ([]string, error) {
	parents := map[string]string{}
	var walk func(d *domain.Deck, parent string)
	walk = func(d *domain.Deck, parent string) {
		for _, c := range d.Children {
			parents[c.FullName] = parent
			walk(c, c.FullName)
		}
	}
	walk(root, "")

	var placeholders []string
	for _, deck := range root.Preorder() {
		if collidesWithMediaDir(deck.FullName) {
			continue
		}
		cards, err := col.CardsInDeck(deck.DID, true)
		if err != nil {
			return nil, err
		}
		nids := map[int64]bool{notetypeNID: true}
		for _, c := range cards {
			nids[c.NID] = true
		}

		seen := map[string]bool{}
		for nid := range nids {
			for _, name := range refs[nid] {
				if seen[name] {
					continue
				}
				seen[name] = true

				deckDir := filepath.Join(targetDir, deckPath(deck.FullName))
				link := filepath.Join(deckDir, kirepo.MediaDir, name)
				if exists(link) {
					continue
				}
				var target string
				if parent := parents[deck.FullName]; parent == "" {
					target = filepath.Join(targetDir, kirepo.MediaDir, name)
				} else {
					target = filepath.Join(targetDir, deckPath(parent), kirepo.MediaDir, name)
				}
				placeholder, err := LinkIntent{Path: link, Target: target}.Materialize()
				if err != nil {
					return nil, err
				}
				if placeholder {
					rel, err := filepath.Rel(targetDir, link)
					if err != nil {
						return nil, err
					}
					placeholders = append(placeholders, rel)
				}
			}
		}
	}
	return placeholders, nil
}

func deckPath(fullname string) string {
	return filepath.FromSlash(strings.ReplaceAll(fullname, "::", "/"))
}
