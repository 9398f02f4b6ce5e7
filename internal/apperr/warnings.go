package apperr

import (
	"fmt"
	"log/slog"
)

// Warning is a recoverable condition surfaced to the user without aborting
// the pass.
type Warning interface {
	Warning() string
}

// Warnings accumulates warnings across a pass.
type Warnings struct {
	items []Warning
}

// Add appends warnings to the accumulator.
func (w *Warnings) Add(ws ...Warning) {
	w.items = append(w.items, ws...)
}

// Items returns the collected warnings in order.
func (w *Warnings) Items() []Warning { return w.items }

// Len returns the number of collected warnings.
func (w *Warnings) Len() int { return len(w.items) }

// Report logs every collected warning.
func (w *Warnings) Report(log *slog.Logger) {
	for _, item := range w.items {
		log.Warn(item.Warning())
	}
}

// DeletedFileNotFound: a diff reported a deletion but the old side is absent
// from the old snapshot.
type DeletedFileNotFound struct{ Path string }

func (w DeletedFileNotFound) Warning() string {
	return fmt.Sprintf("deleted note file %q not found in old snapshot", w.Path)
}

// DiffTargetNotFound: a diff reported a modification/addition but the new
// side is absent from the new snapshot.
type DiffTargetNotFound struct{ Path string }

func (w DiffTargetNotFound) Warning() string {
	return fmt.Sprintf("diff target %q not found in new snapshot", w.Path)
}

// NotetypeCollision: a pushed notetype shares a name with an existing one but
// has different content. The collection's notetype stays authoritative.
type NotetypeCollision struct{ Name string }

func (w NotetypeCollision) Warning() string {
	return fmt.Sprintf("notetype %q already exists with different content; keeping the collection's version", w.Name)
}

// WrongFieldCount: a note's field count does not match its notetype's.
type WrongFieldCount struct {
	GUID string
	Want int
	Got  int
}

func (w WrongFieldCount) Warning() string {
	return fmt.Sprintf("note %s has %d fields, notetype wants %d", w.GUID, w.Got, w.Want)
}

// InconsistentFieldNames: a note's field name differs positionally from its
// notetype's.
type InconsistentFieldNames struct {
	GUID string
	Want string
	Got  string
}

func (w InconsistentFieldNames) Warning() string {
	return fmt.Sprintf("note %s field %q does not match notetype field %q", w.GUID, w.Got, w.Want)
}

// UnhealthyNote: the fields health check flagged the note, which was removed.
type UnhealthyNote struct {
	NID    int64
	Status int
}

func (w UnhealthyNote) Warning() string {
	switch w.Status {
	case 1:
		return fmt.Sprintf("note %d has an empty first field; removed", w.NID)
	case 2:
		return fmt.Sprintf("note %d is a duplicate; removed", w.NID)
	default:
		return fmt.Sprintf("note %d failed the fields health check (status %d); removed", w.NID, w.Status)
	}
}

// RenamedMediaFile: the media store renamed an added file on content
// collision.
type RenamedMediaFile struct {
	Name    string
	NewName string
}

func (w RenamedMediaFile) Warning() string {
	return fmt.Sprintf("media file %q was renamed to %q on add", w.Name, w.NewName)
}

// UnparsableNote: a note file failed to parse during a non-structural step.
type UnparsableNote struct {
	Path string
	Err  error
}

func (w UnparsableNote) Warning() string {
	return fmt.Sprintf("could not parse note file %q: %v", w.Path, w.Err)
}

// MediaDeckNameCollision: a deck is named like the media directory, which
// shadows the media link chain.
type MediaDeckNameCollision struct{ Deck string }

func (w MediaDeckNameCollision) Warning() string {
	return fmt.Sprintf("deck %q collides with the media directory name and was skipped", w.Deck)
}
