package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/checksum"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/gitx"
	"github.com/conorfennell/decksync/internal/kirepo"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func basicNotetype() domain.Notetype {
	return domain.Notetype{
		Name: "Basic",
		Flds: []domain.Field{
			{Name: "Front", Ord: 0},
			{Name: "Back", Ord: 1},
		},
		Tmpls: []domain.Template{
			{Name: "Card 1", Ord: 0, QFmt: "{{Front}}", AFmt: "{{Back}}"},
		},
	}
}

// newSeededCollection creates a collection holding two notes in Default and
// returns its path.
func newSeededCollection(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collection.anki2")
	col, err := anki.Create(path)
	if err != nil {
		t.Fatalf("Expected collection to be created, got %v", err)
	}
	mid, err := col.AddNotetype(basicNotetype())
	if err != nil {
		t.Fatal(err)
	}
	if err := col.AddNote(1000, "guidA", mid, 1, []string{"t1"}, []string{"question one", "answer one"}); err != nil {
		t.Fatal(err)
	}
	if err := col.AddNote(1001, "guidB", mid, 1, nil, []string{"question two", "answer two"}); err != nil {
		t.Fatal(err)
	}
	if err := col.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func cloneSeeded(t *testing.T, colPath string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	if _, err := Clone(context.Background(), colPath, dir, testLogger()); err != nil {
		t.Fatalf("Expected clone to succeed, got %v", err)
	}
	return dir
}

func backupCount(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, kirepo.MetaDir, kirepo.BackupsDir))
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for _, e := range entries {
		if e.Name() != kirepo.LCAName {
			n++
		}
	}
	return n
}

func TestClone(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	t.Run("materializes one file per note", func(t *testing.T) {
		for _, name := range []string{"question-one.md", "question-two.md"} {
			if _, err := os.Stat(filepath.Join(dir, "Default", name)); err != nil {
				t.Errorf("Expected note file %s, got %v", name, err)
			}
		}
	})

	t.Run("records the ledger line", func(t *testing.T) {
		hash, err := checksum.File(colPath)
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(filepath.Join(dir, kirepo.MetaDir, kirepo.HashesFile))
		if err != nil {
			t.Fatal(err)
		}
		want := hash + "  collection.anki2\n"
		if string(data) != want {
			t.Errorf("Expected ledger %q, got %q", want, string(data))
		}
	})

	t.Run("creates the checkpoint tag and lca backup", func(t *testing.T) {
		git, err := gitx.Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		head, err := git.Head()
		if err != nil {
			t.Fatal(err)
		}
		tagged, err := git.TagCommit(kirepo.CheckpointTag)
		if err != nil {
			t.Fatalf("Expected checkpoint tag, got %v", err)
		}
		if tagged != head {
			t.Errorf("Expected tag at head %s, got %s", head, tagged)
		}
		if _, err := os.Stat(filepath.Join(dir, kirepo.MetaDir, kirepo.BackupsDir, kirepo.LCAName)); err != nil {
			t.Errorf("Expected lca backup, got %v", err)
		}
	})

	t.Run("refuses a populated target", func(t *testing.T) {
		_, err := Clone(context.Background(), colPath, dir, testLogger())
		var existsErr *apperr.TargetExistsError
		if !errors.As(err, &existsErr) {
			t.Fatalf("Expected target-exists error, got %v", err)
		}
	})
}

func TestPushAfterCloneIsNoop(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	res, err := Push(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected push to succeed, got %v", err)
	}
	if !res.UpToDate {
		t.Error("Expected push right after clone to be a no-op")
	}
	if res.Backup != "" || backupCount(t, dir) != 0 {
		t.Error("Expected no backup for a no-op push")
	}
}

func TestPushDeletion(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)
	priorHash, err := checksum.File(colPath)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, "Default", "question-two.md")); err != nil {
		t.Fatal(err)
	}
	git, err := gitx.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := git.CommitAll("Delete question two"); err != nil {
		t.Fatal(err)
	}

	res, err := Push(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected push to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected push to apply the deletion")
	}

	t.Run("collection loses the note", func(t *testing.T) {
		col, err := anki.Open(colPath)
		if err != nil {
			t.Fatal(err)
		}
		defer col.Close()
		nids, err := col.NoteIDs()
		if err != nil {
			t.Fatal(err)
		}
		if len(nids) != 1 {
			t.Errorf("Expected 1 remaining note, got %d", len(nids))
		}
	})

	t.Run("backup is keyed by the prior hash", func(t *testing.T) {
		want := priorHash + ".anki2"
		if res.Backup != want {
			t.Errorf("Expected backup %s, got %s", want, res.Backup)
		}
		if _, err := os.Stat(filepath.Join(dir, kirepo.MetaDir, kirepo.BackupsDir, want)); err != nil {
			t.Errorf("Expected backup file, got %v", err)
		}
	})

	t.Run("repeat push is a no-op with no new backup", func(t *testing.T) {
		before := backupCount(t, dir)
		again, err := Push(context.Background(), dir, testLogger())
		if err != nil {
			t.Fatalf("Expected repeat push to succeed, got %v", err)
		}
		if !again.UpToDate {
			t.Error("Expected repeat push to report up to date")
		}
		if backupCount(t, dir) != before {
			t.Error("Expected no additional backup")
		}
	})
}

func TestPushNewNoteFile(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	note := strings.Join([]string{
		"# Note",
		"```",
		"guid: guidC",
		"notetype: Basic",
		"```",
		"",
		"### Tags",
		"```",
		"fresh",
		"```",
		"",
		"## Front",
		"question three",
		"",
		"## Back",
		"answer three",
		"",
	}, "\n")
	deckDir := filepath.Join(dir, "Default", "sub")
	if err := os.MkdirAll(deckDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(deckDir, "question-three.md"), []byte(note), 0o644); err != nil {
		t.Fatal(err)
	}
	git, err := gitx.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := git.CommitAll("Add question three"); err != nil {
		t.Fatal(err)
	}

	res, err := Push(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected push to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected push to insert the new note")
	}

	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	defer col.Close()
	meta, err := col.NoteMetadata()
	if err != nil {
		t.Fatal(err)
	}
	m, ok := meta["guidC"]
	if !ok {
		t.Fatal("Expected inserted note by guid")
	}
	got, err := col.GetNote(m.NID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "fresh" {
		t.Errorf("Expected tags [fresh], got %v", got.Tags)
	}
	deck, err := col.NoteDeckName(m.NID)
	if err != nil {
		t.Fatal(err)
	}
	if deck != "Default::sub" {
		t.Errorf("Expected note homed in Default::sub, got %q", deck)
	}
}

func TestPushNewNotetypeTemplateMedia(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	// Register a notetype whose styling names a shared attachment.
	modelsPath := filepath.Join(dir, kirepo.ModelsFile)
	data, err := os.ReadFile(modelsPath)
	if err != nil {
		t.Fatal(err)
	}
	var models map[string]domain.Notetype
	if err := json.Unmarshal(data, &models); err != nil {
		t.Fatal(err)
	}
	models["Styled"] = domain.Notetype{
		Name: "Styled",
		CSS:  `.card { background: url("_bg.png"); }`,
		Flds: []domain.Field{
			{Name: "Front", Ord: 0},
			{Name: "Back", Ord: 1},
		},
		Tmpls: []domain.Template{
			{Name: "Card 1", Ord: 0, QFmt: "{{Front}}", AFmt: "{{Back}}"},
		},
	}
	out, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(modelsPath, append(out, '\n'), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(filepath.Join(dir, kirepo.MediaDir), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, kirepo.MediaDir, "_bg.png"), []byte("bg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	note := strings.Join([]string{
		"# Note",
		"```",
		"guid: guidE",
		"notetype: Styled",
		"```",
		"",
		"### Tags",
		"```",
		"```",
		"",
		"## Front",
		"styled question",
		"",
		"## Back",
		"styled answer",
		"",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, "Default", "styled-question.md"), []byte(note), 0o644); err != nil {
		t.Fatal(err)
	}
	git, err := gitx.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := git.CommitAll("Add styled note"); err != nil {
		t.Fatal(err)
	}

	res, err := Push(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected push to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected push to carry the new notetype")
	}

	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	defer col.Close()
	if _, ok, err := col.NotetypeByName("Styled"); err != nil || !ok {
		t.Fatalf("Expected Styled notetype in collection, got ok=%v err=%v", ok, err)
	}
	got, err := col.MediaData("_bg.png")
	if err != nil || string(got) != "bg bytes" {
		t.Errorf("Expected template attachment in the store, got %q err=%v", string(got), err)
	}
}

func TestPushRejectsUnknownCollectionState(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	// Mutate the collection behind the repository's back.
	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	nids, err := col.NoteIDs()
	if err != nil {
		t.Fatal(err)
	}
	if err := col.UpdateNote(nids[0], nil, []string{"changed", "elsewhere"}); err != nil {
		t.Fatal(err)
	}
	if err := col.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = Push(context.Background(), dir, testLogger())
	var rejected *apperr.UpdatesRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Expected updates-rejected error, got %v", err)
	}
	if !errors.Is(err, apperr.ErrStaleness) {
		t.Error("Expected error to match the staleness category")
	}
}

func TestPushLockExclusivity(t *testing.T) {
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	lock, err := anki.AcquireLock(context.Background(), colPath)
	if err != nil {
		t.Fatalf("Expected lock to be acquired, got %v", err)
	}
	defer lock.Release()

	_, err = Push(context.Background(), dir, testLogger())
	if !errors.Is(err, apperr.ErrConcurrency) {
		t.Fatalf("Expected a lock-specific concurrency error, got %v", err)
	}
}

func TestPull(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not installed")
	}
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	// Edit the collection out of band, as the database engine would.
	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := col.NoteMetadata()
	if err != nil {
		t.Fatal(err)
	}
	if err := col.UpdateNote(meta["guidA"].NID, []string{"t1"}, []string{"question one revised", "answer one"}); err != nil {
		t.Fatal(err)
	}
	if err := col.Close(); err != nil {
		t.Fatal(err)
	}

	res, err := Pull(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected pull to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected pull to carry the collection edit")
	}

	t.Run("note file follows its new slug", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "Default", "question-one-revised.md"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "question one revised") {
			t.Errorf("Expected revised field in file, got:\n%s", string(data))
		}
		if _, err := os.Stat(filepath.Join(dir, "Default", "question-one.md")); !os.IsNotExist(err) {
			t.Errorf("Expected stale file to be removed, got %v", err)
		}
	})

	t.Run("ledger gains the pulled hash", func(t *testing.T) {
		hash, err := checksum.File(colPath)
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(filepath.Join(dir, kirepo.MetaDir, kirepo.HashesFile))
		if err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 2 {
			t.Fatalf("Expected 2 ledger lines, got %d", len(lines))
		}
		if !strings.HasPrefix(lines[1], hash) {
			t.Errorf("Expected newest line to carry %s, got %q", hash, lines[1])
		}
	})

	t.Run("repeat pull is a no-op", func(t *testing.T) {
		again, err := Pull(context.Background(), dir, testLogger())
		if err != nil {
			t.Fatalf("Expected repeat pull to succeed, got %v", err)
		}
		if !again.UpToDate {
			t.Error("Expected repeat pull to report up to date")
		}
	})

	t.Run("push after pull sees no local changes", func(t *testing.T) {
		res, err := Push(context.Background(), dir, testLogger())
		if err != nil {
			t.Fatalf("Expected push to succeed, got %v", err)
		}
		if !res.UpToDate {
			t.Error("Expected push after pull to be a no-op")
		}
	})
}

func TestPullDeckMove(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not installed")
	}
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	// Move a note between decks in the database, as the engine's browser
	// would.
	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	meta, err := col.NoteMetadata()
	if err != nil {
		t.Fatal(err)
	}
	did, _, err := col.DeckID("Archive", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := col.SetDeck(meta["guidA"].NID, did); err != nil {
		t.Fatal(err)
	}
	if err := col.Close(); err != nil {
		t.Fatal(err)
	}

	res, err := Pull(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected pull to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected pull to carry the deck move")
	}

	t.Run("note file moves to the new deck directory", func(t *testing.T) {
		if _, err := os.Stat(filepath.Join(dir, "Archive", "question-one.md")); err != nil {
			t.Fatalf("Expected note file in Archive, got %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "Default", "question-one.md")); !os.IsNotExist(err) {
			t.Errorf("Expected old location to be vacated, got %v", err)
		}
	})

	t.Run("push after pull keeps the note in its new deck", func(t *testing.T) {
		pres, err := Push(context.Background(), dir, testLogger())
		if err != nil {
			t.Fatalf("Expected push to succeed, got %v", err)
		}
		if !pres.UpToDate {
			t.Error("Expected push after pull to be a no-op")
		}
		col, err := anki.Open(colPath)
		if err != nil {
			t.Fatal(err)
		}
		defer col.Close()
		meta, err := col.NoteMetadata()
		if err != nil {
			t.Fatal(err)
		}
		deck, err := col.NoteDeckName(meta["guidA"].NID)
		if err != nil {
			t.Fatal(err)
		}
		if deck != "Archive" {
			t.Errorf("Expected note to stay in Archive, got %q", deck)
		}
	})
}

func TestPullAddedNoteAndDeck(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git executable not installed")
	}
	colPath := newSeededCollection(t)
	dir := cloneSeeded(t, colPath)

	col, err := anki.Open(colPath)
	if err != nil {
		t.Fatal(err)
	}
	nt, ok, err := col.NotetypeByName("Basic")
	if err != nil || !ok {
		t.Fatalf("Expected Basic notetype, got ok=%v err=%v", ok, err)
	}
	did, _, err := col.DeckID("geography", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := col.AddNote(2000, "guidD", nt.ID, did, nil, []string{"capital of peru", "lima"}); err != nil {
		t.Fatal(err)
	}
	if err := col.Close(); err != nil {
		t.Fatal(err)
	}

	res, err := Pull(context.Background(), dir, testLogger())
	if err != nil {
		t.Fatalf("Expected pull to succeed, got %v", err)
	}
	if res.UpToDate {
		t.Fatal("Expected pull to carry the new note")
	}
	if _, err := os.Stat(filepath.Join(dir, "geography", "capital-of-peru.md")); err != nil {
		t.Errorf("Expected pulled note file in its new deck, got %v", err)
	}
}
