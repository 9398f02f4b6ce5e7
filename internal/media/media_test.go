package media

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
)

func TestFilenames(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"img tag", `before <img src="cat.png"> after`, []string{"cat.png"}},
		{"unquoted src", `<img src=dog.jpg>`, []string{"dog.jpg"}},
		{"sound tag", `listen [sound:hello.mp3] now`, []string{"hello.mp3"}},
		{"remote url skipped", `<img src="https://example.com/x.png">`, nil},
		{"nested path skipped", `<img src="sub/dir.png">`, nil},
		{"mixed", `<img src='a.png'> [sound:b.ogg]`, []string{"a.png", "b.ogg"}},
		{"plain text", "no attachments here", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Filenames(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestNotetypeReferences(t *testing.T) {
	nt := domain.Notetype{
		Name: "Styled",
		CSS:  `.card { background: url("_bg.png"); }`,
		Tmpls: []domain.Template{
			{Name: "Card 1", QFmt: `{{Front}} <img src="_logo.svg">`, AFmt: "{{Back}}"},
		},
	}
	if !NotetypeReferences(nt, "_bg.png") {
		t.Error("Expected css reference to be found")
	}
	if !NotetypeReferences(nt, "_logo.svg") {
		t.Error("Expected template reference to be found")
	}
	if NotetypeReferences(nt, "_absent.png") {
		t.Error("Expected missing reference to be absent")
	}
}

func TestTemplateFilenames(t *testing.T) {
	nts := []domain.Notetype{
		{
			Name: "Styled",
			CSS:  `.card { background: url("_bg.png"); }`,
			Tmpls: []domain.Template{
				{Name: "Card 1", QFmt: `{{Front}} <img src="_logo.svg">`, AFmt: "{{Back}}"},
			},
		},
	}
	root := seedTree(t, map[string]string{
		"_media/_bg.png":          "bg",
		"deck/_media/_logo.svg":   "logo",
		"deck/_media/_orphan.png": "unreferenced",
		"deck/_media/fielded.png": "no underscore",
		"deck/sub/_media/_bg.png": "bg again",
	})

	got, err := TemplateFilenames(nts, root)
	if err != nil {
		t.Fatalf("Expected enumeration to succeed, got %v", err)
	}
	want := []string{"_bg.png", "_logo.svg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func newTestCollection(t *testing.T) *anki.Collection {
	t.Helper()
	col, err := anki.Create(filepath.Join(t.TempDir(), "collection.anki2"))
	if err != nil {
		t.Fatalf("Expected collection to be created, got %v", err)
	}
	t.Cleanup(func() { col.Close() })
	return col
}

func seedTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestSync(t *testing.T) {
	t.Run("new file is added to the store", func(t *testing.T) {
		col := newTestCollection(t)
		root := seedTree(t, map[string]string{
			"_media/cat.png": "png bytes",
			"deck/note.md":   "not media",
		})
		var warnings apperr.Warnings
		written, err := Sync(col, root, nil, &warnings)
		if err != nil {
			t.Fatalf("Expected sync to succeed, got %v", err)
		}
		if written != 1 {
			t.Errorf("Expected 1 file written, got %d", written)
		}
		data, err := col.MediaData("cat.png")
		if err != nil || string(data) != "png bytes" {
			t.Errorf("Expected stored bytes, got %q err=%v", string(data), err)
		}
		if warnings.Len() != 0 {
			t.Errorf("Expected no warnings, got %v", warnings.Items())
		}
	})

	t.Run("unchanged file is skipped", func(t *testing.T) {
		col := newTestCollection(t)
		src := filepath.Join(t.TempDir(), "cat.png")
		if err := os.WriteFile(src, []byte("same"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := col.AddMediaFile(src); err != nil {
			t.Fatal(err)
		}
		root := seedTree(t, map[string]string{"_media/cat.png": "same"})
		var warnings apperr.Warnings
		written, err := Sync(col, root, nil, &warnings)
		if err != nil {
			t.Fatalf("Expected sync to succeed, got %v", err)
		}
		if written != 0 {
			t.Errorf("Expected no writes for identical content, got %d", written)
		}
	})

	t.Run("collision rename is surfaced as a warning", func(t *testing.T) {
		col := newTestCollection(t)
		src := filepath.Join(t.TempDir(), "cat.png")
		if err := os.WriteFile(src, []byte("old bytes"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := col.AddMediaFile(src); err != nil {
			t.Fatal(err)
		}
		root := seedTree(t, map[string]string{"_media/cat.png": "new bytes"})
		var warnings apperr.Warnings
		written, err := Sync(col, root, nil, &warnings)
		if err != nil {
			t.Fatalf("Expected sync to succeed, got %v", err)
		}
		if written != 1 {
			t.Errorf("Expected 1 file written, got %d", written)
		}
		if warnings.Len() != 1 {
			t.Fatalf("Expected one rename warning, got %v", warnings.Items())
		}
		renamed, ok := warnings.Items()[0].(apperr.RenamedMediaFile)
		if !ok || renamed.Name != "cat.png" || renamed.NewName != "cat-1.png" {
			t.Errorf("Expected cat.png renamed to cat-1.png, got %+v", warnings.Items()[0])
		}
	})

	t.Run("name filter restricts the pass", func(t *testing.T) {
		col := newTestCollection(t)
		root := seedTree(t, map[string]string{
			"_media/wanted.png":  "a",
			"_media/ignored.png": "b",
		})
		var warnings apperr.Warnings
		written, err := Sync(col, root, map[string]bool{"wanted.png": true}, &warnings)
		if err != nil {
			t.Fatalf("Expected sync to succeed, got %v", err)
		}
		if written != 1 {
			t.Errorf("Expected only the wanted file written, got %d", written)
		}
		if have, _ := col.MediaHave("ignored.png"); have {
			t.Error("Expected filtered file to stay out of the store")
		}
	})

	t.Run("placeholder chain resolves to the real file", func(t *testing.T) {
		col := newTestCollection(t)
		root := seedTree(t, map[string]string{
			"assets/cat.png":      "real bytes",
			"deck/_media/cat.png": "../../assets/cat.png",
		})
		var warnings apperr.Warnings
		written, err := Sync(col, root, nil, &warnings)
		if err != nil {
			t.Fatalf("Expected sync to succeed, got %v", err)
		}
		if written != 1 {
			t.Errorf("Expected the real file written once, got %d", written)
		}
		data, _ := col.MediaData("cat.png")
		if string(data) != "real bytes" {
			t.Errorf("Expected placeholder to resolve to real bytes, got %q", string(data))
		}
	})
}
