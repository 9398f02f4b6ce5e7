package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/checksum"
	"github.com/conorfennell/decksync/internal/decktree"
	"github.com/conorfennell/decksync/internal/diff"
	"github.com/conorfennell/decksync/internal/domain"
	"github.com/conorfennell/decksync/internal/gitx"
	"github.com/conorfennell/decksync/internal/kirepo"
	"github.com/conorfennell/decksync/internal/media"
)

// Push applies the repository's changes since the last checkpoint to the
// collection: the collection is rendered into an ephemeral tree, the working
// tree is overlaid on top, and the resulting two-commit diff drives updates
// against a disposable collection copy that atomically replaces the live
// file on success.
func Push(ctx context.Context, repoDir string, log *slog.Logger) (*Result, error) {
	repo, err := kirepo.Load(repoDir)
	if err != nil {
		return nil, err
	}
	lock, err := anki.AcquireLock(ctx, repo.ColPath)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	hash, err := checksum.File(repo.ColPath)
	if err != nil {
		return nil, err
	}
	known, err := repo.HashKnown(hash)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, &apperr.UpdatesRejectedError{Path: repo.ColPath}
	}

	res := &Result{}
	tmp, err := os.MkdirTemp("", "decksync-push-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	dres, err := stageDiff(repo, tmp)
	if err != nil {
		return nil, err
	}
	res.Warnings.Add(dres.Warnings...)

	if len(dres.Deltas) == 0 {
		head, err := repo.Git.Head()
		if err != nil {
			return nil, err
		}
		res.UpToDate = true
		res.Commit = head
		res.Warnings.Report(log)
		log.Info("nothing to push", "hash", hash)
		return res, nil
	}

	mediaNames, err := applyDeltas(repo, tmp, &dres, res)
	if err != nil {
		return nil, err
	}

	backup, written, err := repo.WriteBackup(repo.ColPath, hash)
	if err != nil {
		return nil, err
	}
	if written {
		res.Backup = backup
	}
	if err := replaceFile(filepath.Join(tmp, "write.anki2"), repo.ColPath); err != nil {
		return nil, err
	}

	if len(mediaNames) > 0 {
		live, err := anki.Open(repo.ColPath)
		if err != nil {
			return nil, err
		}
		if _, err := media.Sync(live, repo.Root, mediaNames, &res.Warnings); err != nil {
			live.Close()
			return nil, err
		}
		if err := live.Close(); err != nil {
			return nil, err
		}
	}

	newHash, err := checksum.File(repo.ColPath)
	if err != nil {
		return nil, err
	}
	label := filepath.Base(repo.ColPath)
	if err := repo.AppendHash(newHash, label); err != nil {
		return nil, err
	}
	commit, err := repo.Git.CommitAll(fmt.Sprintf("Push %s", label))
	if err != nil {
		return nil, err
	}
	if err := repo.AdvanceCheckpoint(commit); err != nil {
		return nil, err
	}
	if err := repo.OverwriteLCA(repo.ColPath); err != nil {
		return nil, err
	}

	res.Commit = commit
	res.Warnings.Report(log)
	log.Info("pushed", "commit", commit, "hash", newHash, "deltas", len(dres.Deltas))
	return res, nil
}

// stageDiff renders the collection into an ephemeral repository, overlays
// the caller's working tree, and diffs the two resulting commits.
func stageDiff(repo *kirepo.Repo, tmp string) (diff.Result, error) {
	readCopy := filepath.Join(tmp, "read.anki2")
	if err := copyInto(repo.ColPath, readCopy); err != nil {
		return diff.Result{}, err
	}
	readCol, err := anki.Open(readCopy)
	if err != nil {
		return diff.Result{}, err
	}
	defer readCol.Close()

	stage := filepath.Join(tmp, "stage")
	overrides, err := renderOverrides(readCol)
	if err != nil {
		return diff.Result{}, err
	}
	if _, err := decktree.WriteTree(readCol, stage, overrides); err != nil {
		return diff.Result{}, err
	}
	stageGit, err := gitx.Init(stage)
	if err != nil {
		return diff.Result{}, err
	}
	oldCommit, err := stageGit.CommitAll("Collection state")
	if err != nil {
		return diff.Result{}, err
	}
	// Repository metadata stays out of the stage commits; committing it
	// would let rename detection pair its files with real note changes.
	if err := gitx.OverlayWorkingTree(repo.Root, stage, kirepo.MetaDir); err != nil {
		return diff.Result{}, err
	}
	newCommit, err := stageGit.CommitAll("Working tree state")
	if err != nil {
		return diff.Result{}, err
	}

	oldRoot := filepath.Join(tmp, "old")
	if _, err := stageGit.Snapshot(oldCommit, oldRoot); err != nil {
		return diff.Result{}, err
	}
	dres, err := diff.Deltas(stageGit, oldCommit, newCommit, oldRoot, stage)
	if err != nil {
		return diff.Result{}, err
	}
	return dres, nil
}

// applyDeltas mutates a disposable collection copy under tmp according to
// the diff, returning the attachment names referenced by pushed notes.
func applyDeltas(repo *kirepo.Repo, tmp string, dres *diff.Result, res *Result) (map[string]bool, error) {
	writeCopy := filepath.Join(tmp, "write.anki2")
	if err := copyInto(repo.ColPath, writeCopy); err != nil {
		return nil, err
	}
	wcol, err := anki.Open(writeCopy)
	if err != nil {
		return nil, err
	}
	defer wcol.Close()

	added, err := pushNotetypes(repo, wcol, &res.Warnings)
	if err != nil {
		return nil, err
	}

	meta, err := wcol.NoteMetadata()
	if err != nil {
		return nil, err
	}
	minter := newNIDMinter(meta)

	var deletes, upserts []domain.Delta
	for _, d := range dres.Deltas {
		if d.Status == domain.Deleted {
			deletes = append(deletes, d)
		} else {
			upserts = append(upserts, d)
		}
	}

	var rmNIDs []int64
	for _, d := range deletes {
		note, err := diff.ParseNoteFile(d.Path, d.RelPath, dres)
		if err != nil {
			res.Warnings.Add(apperr.UnparsableNote{Path: d.RelPath})
			continue
		}
		if m, ok := meta[note.GUID]; ok {
			rmNIDs = append(rmNIDs, m.NID)
			delete(meta, note.GUID)
		}
	}
	if len(rmNIDs) > 0 {
		if err := wcol.RemoveNotes(rmNIDs); err != nil {
			return nil, err
		}
	}

	mediaNames := map[string]bool{}
	for _, d := range upserts {
		note, err := diff.ParseNoteFile(d.Path, d.RelPath, dres)
		if err != nil {
			res.Warnings.Add(apperr.UnparsableNote{Path: d.RelPath})
			continue
		}
		if err := pushNote(wcol, note, meta, minter, &res.Warnings); err != nil {
			return nil, err
		}
		for _, text := range note.FieldTexts() {
			for _, name := range media.Filenames(text) {
				mediaNames[name] = true
			}
		}
	}
	// New notetypes can reference shared attachments from their templates
	// or styling; those files need syncing even when no field names them.
	if len(added) > 0 {
		tmplNames, err := media.TemplateFilenames(added, repo.Root)
		if err != nil {
			return nil, err
		}
		for _, name := range tmplNames {
			mediaNames[name] = true
		}
	}
	return mediaNames, nil
}

// pushNotetypes adds every notetype the working tree's manifest names that
// the collection lacks, returning the ones it added. Same-named notetypes
// with different content stay as the collection has them; the mismatch is
// surfaced as a warning.
func pushNotetypes(repo *kirepo.Repo, wcol *anki.Collection, warnings *apperr.Warnings) ([]domain.Notetype, error) {
	models, err := readModels(filepath.Join(repo.Root, kirepo.ModelsFile))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)

	var added []domain.Notetype
	for _, name := range names {
		existing, ok, err := wcol.NotetypeByName(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			if _, err := wcol.AddNotetype(models[name]); err != nil {
				return nil, err
			}
			added = append(added, models[name])
			continue
		}
		if existing.ContentHash() != models[name].ContentHash() {
			warnings.Add(apperr.NotetypeCollision{Name: name})
		}
	}
	return added, nil
}

// pushNote upserts a single parsed note into the collection copy.
func pushNote(wcol *anki.Collection, note domain.DeckNote, meta map[string]domain.NoteMetadata, minter *nidMinter, warnings *apperr.Warnings) error {
	nt, ok, err := wcol.NotetypeByName(note.Notetype)
	if err != nil {
		return err
	}
	if !ok {
		return &apperr.MissingNotetypeError{Name: note.Notetype}
	}

	deckName := note.Deck
	if deckName == "" {
		deckName = "Default"
	}
	did, _, err := wcol.DeckID(deckName, true)
	if err != nil {
		return err
	}

	fields := note.FieldTexts()
	want := nt.FieldNames()
	fieldsOK := len(fields) == len(want)
	if !fieldsOK {
		warnings.Add(apperr.WrongFieldCount{GUID: note.GUID, Want: len(want), Got: len(fields)})
	} else {
		for i, name := range note.FieldNames() {
			if name != want[i] {
				warnings.Add(apperr.InconsistentFieldNames{GUID: note.GUID, Want: want[i], Got: name})
			}
		}
	}

	m, exists := meta[note.GUID]
	if !exists {
		nid := minter.mint()
		if err := wcol.AddNote(nid, note.GUID, nt.ID, did, note.Tags, alignFields(fields, len(want))); err != nil {
			return err
		}
		m = domain.NoteMetadata{NID: nid, MID: nt.ID}
		meta[note.GUID] = m
	} else {
		if err := wcol.SetDeck(m.NID, did); err != nil {
			return err
		}
		if m.MID != nt.ID {
			oldNT, ok, err := wcol.Notetype(m.MID)
			if err != nil {
				return err
			}
			if !ok {
				return &apperr.MissingNotetypeError{Name: fmt.Sprintf("mid:%d", m.MID)}
			}
			if err := wcol.ChangeNotetype(m.NID, oldNT, nt, anki.FieldRemap(oldNT, nt)); err != nil {
				return err
			}
			m.MID = nt.ID
			meta[note.GUID] = m
		}
		if fieldsOK {
			if err := wcol.UpdateNote(m.NID, note.Tags, fields); err != nil {
				return err
			}
		}
	}

	status, err := wcol.FieldsCheck(m.NID)
	if err != nil {
		return err
	}
	if status != anki.HealthOK {
		if err := wcol.RemoveNotes([]int64{m.NID}); err != nil {
			return err
		}
		warnings.Add(apperr.UnhealthyNote{NID: m.NID, Status: status})
		delete(meta, note.GUID)
	}
	return nil
}

// alignFields pads or trims a field slice to the notetype's count so an
// insert never fails outright on a count mismatch.
func alignFields(fields []string, want int) []string {
	if len(fields) == want {
		return fields
	}
	aligned := make([]string, want)
	copy(aligned, fields)
	return aligned
}
