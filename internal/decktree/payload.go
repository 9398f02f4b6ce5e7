package decktree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/parser"
)

const maxFilenameLen = 60

var (
	tagStripRE = regexp.MustCompile(`<[^<]+?>`)
	slugDropRE = regexp.MustCompile(`[^a-z0-9-]+`)
	dashRunRE  = regexp.MustCompile(`-{2,}`)
)

// payload renders a note back into its markdown file form. FieldOverride
// maps field-note ids to reformatted field text from the tidy step.
func payload(note domain.ColNote, notetype string, fieldOverride map[string]string) string {
	var b strings.Builder
	b.WriteString("# Note\n```\n")
	fmt.Fprintf(&b, "guid: %s\n", note.GUID)
	fmt.Fprintf(&b, "notetype: %s\n", notetype)
	b.WriteString("```\n\n### Tags\n```\n")
	for _, tag := range note.Tags {
		b.WriteString(tag + "\n")
	}
	b.WriteString("```\n")
	for _, f := range note.Fields {
		text := f.Text
		if tidied, ok := fieldOverride[FieldNoteID(note.NID, f.Name)]; ok {
			text = tidied
		}
		b.WriteString("\n## " + f.Name + "\n")
		b.WriteString(parser.HTMLToScreen(text) + "\n")
	}
	return b.String()
}

// WriteNote renders a single note file into deckDir, creating the directory
// as needed, and returns the file's path.
func WriteNote(note domain.ColNote, notetypeName, deckDir string, fieldOverride map[string]string) (string, error) {
	if err := os.MkdirAll(deckDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create deck directory: %w", err)
	}
	return writeNoteFile(note, notetypeName, deckDir, fieldOverride)
}

// FieldNoteID uniquely identifies a field-note pair, used to key reformatted
// field content.
func FieldNoteID(nid int64, fieldName string) string {
	return fmt.Sprintf("%d%s", nid, slugify(fieldName))
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	s = slugDropRE.ReplaceAllString(s, "")
	s = dashRunRE.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// notePath picks a filename for a note inside deckDir from its sort field,
// avoiding collisions with a numeric suffix. cardName distinguishes link
// files for a note whose cards span decks.
func notePath(note domain.ColNote, deckDir, cardName string) string {
	text := tagStripRE.ReplaceAllString(parser.PlainToHTML(note.SortText), "")
	if text == "" {
		text = note.SortText
	}
	slug := slugify(truncate(text, maxFilenameLen))

	if slug == "" {
		var all []string
		for _, f := range note.Fields {
			all = append(all, f.Text)
		}
		slug = slugify(truncate(strings.Join(all, " "), maxFilenameLen))
	}
	if slug == "" {
		// Last resort: name by identity so the path is never empty.
		sum := sha256.Sum256([]byte(note.GUID))
		slug = "note--" + hex.EncodeToString(sum[:8])
	}
	if cardName != "" {
		slug = slug + "_" + slugify(cardName)
	}

	candidate := filepath.Join(deckDir, slug+".md")
	for i := 1; exists(candidate); i++ {
		candidate = filepath.Join(deckDir, fmt.Sprintf("%s_%d.md", slug, i))
	}
	return candidate
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
