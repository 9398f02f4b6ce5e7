package parser

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const basicNote = `# Note
` + "```" + `
guid: q5nUz#a+Dx
notetype: Basic
` + "```" + `

### Tags
` + "```" + `
golang
concurrency
` + "```" + `

## Front
What is a goroutine?

## Back
A lightweight thread
managed by the Go runtime.
`

func TestParse(t *testing.T) {
	t.Run("parses a basic note", func(t *testing.T) {
		note, err := Parse(strings.NewReader(basicNote), "basic.md")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if note.GUID != "q5nUz#a+Dx" {
			t.Errorf("Expected guid 'q5nUz#a+Dx', got %q", note.GUID)
		}
		if note.Notetype != "Basic" {
			t.Errorf("Expected notetype 'Basic', got %q", note.Notetype)
		}
		if len(note.Tags) != 2 || note.Tags[0] != "golang" || note.Tags[1] != "concurrency" {
			t.Errorf("Expected tags [golang concurrency], got %v", note.Tags)
		}
		if len(note.Fields) != 2 {
			t.Fatalf("Expected 2 fields, got %d", len(note.Fields))
		}
		if note.Fields[0].Name != "Front" || note.Fields[0].Text != "What is a goroutine?" {
			t.Errorf("Unexpected first field: %+v", note.Fields[0])
		}
		if note.Fields[1].Text != "A lightweight thread\nmanaged by the Go runtime." {
			t.Errorf("Unexpected second field text: %q", note.Fields[1].Text)
		}
	})

	t.Run("allows an empty guid", func(t *testing.T) {
		text := strings.Replace(basicNote, "guid: q5nUz#a+Dx", "guid:", 1)
		note, err := Parse(strings.NewReader(text), "noguid.md")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if note.GUID != "" {
			t.Errorf("Expected empty guid, got %q", note.GUID)
		}
	})

	t.Run("allows an empty tag block", func(t *testing.T) {
		text := strings.Replace(basicNote, "golang\nconcurrency\n", "", 1)
		note, err := Parse(strings.NewReader(text), "notags.md")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(note.Tags) != 0 {
			t.Errorf("Expected no tags, got %v", note.Tags)
		}
	})

	t.Run("rejects a wrong title with line info", func(t *testing.T) {
		text := strings.Replace(basicNote, "# Note", "## Note", 1)
		_, err := Parse(strings.NewReader(text), "bad.md")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected a ParseError, got %v", err)
		}
		if perr.Line != 1 {
			t.Errorf("Expected error on line 1, got line %d", perr.Line)
		}
	})

	t.Run("rejects a field heading with wrong hashes", func(t *testing.T) {
		text := strings.Replace(basicNote, "## Front", "# Front", 1)
		_, err := Parse(strings.NewReader(text), "bad.md")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected a ParseError, got %v", err)
		}
	})

	t.Run("rejects an over-hashed heading inside a field", func(t *testing.T) {
		text := strings.Replace(basicNote, "## Back", "### Back", 1)
		_, err := Parse(strings.NewReader(text), "bad.md")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected a ParseError, got %v", err)
		}
		if !strings.Contains(perr.Msg, "too many hashes") {
			t.Errorf("Expected a hash-count message, got %q", perr.Msg)
		}
	})

	t.Run("rejects a truncated note", func(t *testing.T) {
		text := "# Note\n```\nguid: abc\nnotetype: Basic\n"
		_, err := Parse(strings.NewReader(text), "short.md")
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Expected a ParseError, got %v", err)
		}
	})
}

func TestIsNoteFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	t.Run("recognizes a note file", func(t *testing.T) {
		path := write("note.md", basicNote)
		if !IsNoteFile(path) {
			t.Error("Expected note file to be recognized")
		}
	})

	t.Run("rejects markdown without a note header", func(t *testing.T) {
		path := write("readme.md", "# Readme\n\nJust a readme.\nwith\nmore\nthan\neight\nlines\nhere\n")
		if IsNoteFile(path) {
			t.Error("Expected plain markdown to be rejected")
		}
	})

	t.Run("rejects non-markdown files", func(t *testing.T) {
		path := write("note.txt", basicNote)
		if IsNoteFile(path) {
			t.Error("Expected non-markdown extension to be rejected")
		}
	})
}

func TestFieldText(t *testing.T) {
	t.Run("plain text newlines become br tags", func(t *testing.T) {
		got := PlainToHTML("line one\nline two")
		if got != "line one<br>line two" {
			t.Errorf("Expected br conversion, got %q", got)
		}
	})

	t.Run("markup suppresses br conversion", func(t *testing.T) {
		got := PlainToHTML("<div>line one\nline two</div>")
		if strings.Contains(got, "<br>") {
			t.Errorf("Expected no br conversion inside markup, got %q", got)
		}
	})

	t.Run("html to screen round trips br tags", func(t *testing.T) {
		got := HTMLToScreen("one<br>two<br/>three")
		if got != "one\ntwo\nthree" {
			t.Errorf("Expected newline conversion, got %q", got)
		}
	})

	t.Run("screen conversion strips style blocks", func(t *testing.T) {
		got := HTMLToScreen("<style>.card {}</style>hello")
		if got != "hello" {
			t.Errorf("Expected style block stripped, got %q", got)
		}
	})
}
