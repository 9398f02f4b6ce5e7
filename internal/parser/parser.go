// Package parser reads markdown note files into typed notes.
//
// A note file looks like:
//
//	# Note
//	```
//	guid: q5nUz#a+Dx
//	notetype: Basic
//	```
//
//	### Tags
//	```
//	golang
//	```
//
//	## Front
//	What is a goroutine?
//
//	## Back
//	A lightweight thread managed by the Go runtime.
package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/conorfennell/decksync/internal/domain"
)

const (
	headerLine    = "# Note"
	fenceLine     = "```"
	tagsLine      = "### Tags"
	guidPrefix    = "guid:"
	modelPrefix   = "notetype:"
	fieldPrefix   = "## "
	noteExtension = ".md"
)

// ParseError is a structured parse failure with location information.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

type state int

const (
	expectHeader state = iota
	expectMetaFence
	readingMeta
	expectTagsHeading
	expectTagsFence
	readingTags
	seekingField
	readingField
)

// ParseFile reads a note file from the given path.
func ParseFile(path string) (domain.DeckNote, error) {
	file, err := os.Open(path)
	if err != nil {
		return domain.DeckNote{}, err
	}
	defer file.Close()

	return Parse(file, path)
}

// Parse reads a single note from r. The path is used only for error
// locations.
func Parse(r io.Reader, path string) (domain.DeckNote, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var note domain.DeckNote
	var fieldName string
	var fieldLines []string
	currentState := expectHeader
	lineno := 0

	fail := func(msg string) (domain.DeckNote, error) {
		return domain.DeckNote{}, &ParseError{Path: path, Line: lineno, Msg: msg}
	}

	finishField := func() {
		if fieldName == "" {
			return
		}
		// Trailing blank lines are layout, not content.
		text := strings.TrimRight(strings.Join(fieldLines, "\n"), "\n")
		note.Fields = append(note.Fields, domain.FieldValue{Name: fieldName, Text: text})
		fieldName = ""
		fieldLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		lineno++

		switch currentState {
		case expectHeader:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line != headerLine {
				return fail(fmt.Sprintf("expected %q", headerLine))
			}
			currentState = expectMetaFence
		case expectMetaFence:
			if line != fenceLine {
				return fail("expected opening fence for note metadata")
			}
			currentState = readingMeta
		case readingMeta:
			if line == fenceLine {
				if note.Notetype == "" {
					return fail("note metadata is missing a notetype")
				}
				currentState = expectTagsHeading
				continue
			}
			switch {
			case strings.HasPrefix(line, guidPrefix):
				note.GUID = strings.TrimSpace(line[len(guidPrefix):])
			case strings.HasPrefix(line, modelPrefix):
				note.Notetype = strings.TrimSpace(line[len(modelPrefix):])
			default:
				return fail(fmt.Sprintf("unrecognized metadata line %q", line))
			}
		case expectTagsHeading:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if line != tagsLine {
				return fail(fmt.Sprintf("expected %q", tagsLine))
			}
			currentState = expectTagsFence
		case expectTagsFence:
			if line != fenceLine {
				return fail("expected opening fence for tags")
			}
			currentState = readingTags
		case readingTags:
			if line == fenceLine {
				currentState = seekingField
				continue
			}
			if tag := strings.TrimSpace(line); tag != "" {
				note.Tags = append(note.Tags, tag)
			}
		case seekingField:
			if strings.TrimSpace(line) == "" {
				continue
			}
			if !strings.HasPrefix(line, fieldPrefix) {
				return fail(fmt.Sprintf("expected a field heading, got %q", line))
			}
			fieldName = strings.TrimSpace(line[len(fieldPrefix):])
			if fieldName == "" {
				return fail("field heading has no name")
			}
			currentState = readingField
		case readingField:
			if strings.HasPrefix(line, fieldPrefix) {
				finishField()
				fieldName = strings.TrimSpace(line[len(fieldPrefix):])
				if fieldName == "" {
					return fail("field heading has no name")
				}
				continue
			}
			if overHashedHeading(line) {
				return fail(fmt.Sprintf("too many hashes in field heading %q", line))
			}
			fieldLines = append(fieldLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.DeckNote{}, err
	}

	finishField()
	if currentState < seekingField {
		return fail("unexpected end of note file")
	}
	if len(note.Fields) == 0 {
		return fail("note has no fields")
	}
	return note, nil
}

// overHashedHeading reports whether a line looks like a field heading with
// three or more hashes. Field headings carry exactly two.
func overHashedHeading(line string) bool {
	rest := strings.TrimLeft(line, "#")
	hashes := len(line) - len(rest)
	return hashes >= 3 && strings.HasPrefix(rest, " ") && strings.TrimSpace(rest) != ""
}

// IsNoteFile reports whether the file at path is a note file: a markdown
// file whose first lines carry the note header and a guid line. Cheap enough
// to run on every diff entry.
func IsNoteFile(path string) bool {
	if !strings.HasSuffix(path, noteExtension) {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() && len(lines) < 8 {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 8 {
		return false
	}
	return lines[0] == headerLine &&
		lines[1] == fenceLine &&
		strings.HasPrefix(lines[2], guidPrefix+" ")
}
