// Package decktree materializes an Anki collection as a tree of markdown
// note files mirroring the deck hierarchy.
package decktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/kirepo"
)

// Tree is the result of writing a collection out as a note-file tree.
type Tree struct {
	// PlaceholderLinks are repo-relative paths of link files that were
	// written as plain placeholders and still need symlink mode promotion
	// in the git index.
	PlaceholderLinks []string
	Warnings         apperr.Warnings
}

// WriteTree writes every note of the collection under targetDir, one
// directory per deck, with card link files for secondary templates and
// per-deck media link chains rooted at the top-level media directory.
// fieldOverride substitutes reformatted field text keyed by FieldNoteID
// and may be nil.
func WriteTree(col *anki.Collection, targetDir string, fieldOverride map[string]string) (*Tree, error) {
	tree := &Tree{}

	root, err := col.DeckTree()
	if err != nil {
		return nil, err
	}
	notetypes, err := col.Notetypes()
	if err != nil {
		return nil, err
	}
	byMID := make(map[int64]domain.Notetype, len(notetypes))
	for _, nt := range notetypes {
		byMID[nt.ID] = nt
	}

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

	media, err := copyMediaFiles(col, notes, targetDir)
	if err != nil {
		return nil, err
	}

	if err := WriteModels(notetypes, targetDir); err != nil {
		return nil, err
	}

	// Postorder so a note's canonical file lands in the deepest deck that
	// holds one of its cards, with shallower decks linking to it.
	written := map[int64]string{}
	for _, deck := range root.Postorder() {
		if collidesWithMediaDir(deck.FullName) {
			tree.Warnings.Add(apperr.MediaDeckNameCollision{Deck: deck.FullName})
			continue
		}
		deckDir := filepath.Join(targetDir, deckPath(deck.FullName))
		if err := os.MkdirAll(deckDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create deck directory: %w", err)
		}
		if err := writeDeckModels(col, deck, byMID, deckDir); err != nil {
			return nil, err
		}

		cards, err := col.CardsInDeck(deck.DID, false)
		if err != nil {
			return nil, err
		}
		sort.Slice(cards, func(i, j int) bool { return cards[i].CID < cards[j].CID })

		for _, card := range cards {
			note, ok := notes[card.NID]
			if !ok {
				continue
			}
			nt, ok := byMID[note.MID]
			if !ok {
				return nil, &apperr.MissingNotetypeError{Name: fmt.Sprintf("mid:%d", note.MID)}
			}
			tmplName := templateName(nt, card.Ord)

			canonical, done := written[card.NID]
			if !done {
				path, err := writeNoteFile(note, nt.Name, deckDir, fieldOverride)
				if err != nil {
					return nil, err
				}
				written[card.NID] = path
				continue
			}

			// Secondary card in the same or another deck: a link file
			// named after the template pointing at the canonical file.
			link := notePath(note, deckDir, tmplName)
			if link == canonical || exists(link) {
				continue
			}
			placeholder, err := LinkIntent{Path: link, Target: canonical}.Materialize()
			if err != nil {
				return nil, err
			}
			if placeholder {
				rel, err := filepath.Rel(targetDir, link)
				if err != nil {
					return nil, err
				}
				tree.PlaceholderLinks = append(tree.PlaceholderLinks, rel)
			}
		}
	}

	placeholders, err := chainMediaLinks(col, root, targetDir, media)
	if err != nil {
		return nil, err
	}
	tree.PlaceholderLinks = append(tree.PlaceholderLinks, placeholders...)
	return tree, nil
}

func writeNoteFile(note domain.ColNote, notetypeName, deckDir string, fieldOverride map[string]string) (string, error) {
	path := notePath(note, deckDir, "")
	body := payload(note, notetypeName, fieldOverride)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note file: %w", err)
	}
	return path, nil
}

func templateName(nt domain.Notetype, ord int) string {
	for _, t := range nt.Tmpls {
		if t.Ord == ord {
			return t.Name
		}
	}
	return fmt.Sprintf("card-%d", ord)
}

// WriteModels serializes the given notetypes to dir's models file, keyed by
// name.
func WriteModels(notetypes []domain.Notetype, dir string) error {
	byName := make(map[string]domain.Notetype, len(notetypes))
	for _, nt := range notetypes {
		byName[nt.Name] = nt
	}
	return writeModelsFile(byName, filepath.Join(dir, kirepo.ModelsFile))
}

// writeDeckModels serializes the notetypes used by notes in the deck and
// its subdecks to the deck's models file.
func writeDeckModels(col *anki.Collection, deck *domain.Deck, byMID map[int64]domain.Notetype, deckDir string) error {
	cards, err := col.CardsInDeck(deck.DID, true)
	if err != nil {
		return err
	}
	used := map[string]domain.Notetype{}
	seen := map[int64]bool{}
	for _, card := range cards {
		if seen[card.NID] {
			continue
		}
		seen[card.NID] = true
		note, err := col.GetNote(card.NID)
		if err != nil {
			return err
		}
		if nt, ok := byMID[note.MID]; ok {
			used[nt.Name] = nt
		}
	}
	return writeModelsFile(used, filepath.Join(deckDir, kirepo.ModelsFile))
}

func writeModelsFile(byName map[string]domain.Notetype, path string) error {
	data, err := json.MarshalIndent(byName, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize notetypes: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write models file: %w", err)
	}
	return nil
}

// collidesWithMediaDir reports whether any component of a deck name equals
// the media directory name, which would shadow the link chain on disk.
func collidesWithMediaDir(fullname string) bool {
	for _, part := range strings.Split(fullname, "::") {
		if strings.EqualFold(part, kirepo.MediaDir) {
			return true
		}
	}
	return false
}
