// Package sqldiff computes a structural change list between two collection
// snapshots, at per-note, per-notetype, and per-deck granularity.
package sqldiff

import (
	"reflect"
	"sort"

	"github.com/conorfennell/decksync/internal/anki"
	"github.com/conorfennell/decksync/internal/domain"
)

// Op classifies a structural change.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// NoteChange carries the new state of a changed note. For OpDelete only the
// old state is known and is carried instead.
type NoteChange struct {
	Op       Op
	GUID     string
	Note     domain.ColNote
	Notetype string
	Deck     string
}

// NotetypeChange carries the new (or for OpDelete, old) notetype.
type NotetypeChange struct {
	Op       Op
	Notetype domain.Notetype
}

// DeckChange names an added or deleted deck by its full "::"-joined name.
type DeckChange struct {
	Op   Op
	Name string
}

// Changes is the full structural difference between two snapshots, each
// slice sorted by identity for deterministic application.
type Changes struct {
	Notes     []NoteChange
	Notetypes []NotetypeChange
	Decks     []DeckChange
}

// Empty reports whether the snapshots are structurally identical.
func (c *Changes) Empty() bool {
	return len(c.Notes) == 0 && len(c.Notetypes) == 0 && len(c.Decks) == 0
}

type noteState struct {
	note     domain.ColNote
	notetype string
	deck     string
}

// Collections diffs two collections, keyed by GUID for notes, by name for
// notetypes, and by full name for decks.
func Collections(old, cur *anki.Collection) (*Changes, error) {
	changes := &Changes{}

	oldNotes, err := collectNotes(old)
	if err != nil {
		return nil, err
	}
	curNotes, err := collectNotes(cur)
	if err != nil {
		return nil, err
	}
	for guid, state := range curNotes {
		prior, exists := oldNotes[guid]
		switch {
		case !exists:
			changes.Notes = append(changes.Notes, NoteChange{Op: OpAdd, GUID: guid, Note: state.note, Notetype: state.notetype, Deck: state.deck})
		case !statesEqual(prior, state):
			changes.Notes = append(changes.Notes, NoteChange{Op: OpUpdate, GUID: guid, Note: state.note, Notetype: state.notetype, Deck: state.deck})
		}
	}
	for guid, state := range oldNotes {
		if _, exists := curNotes[guid]; !exists {
			changes.Notes = append(changes.Notes, NoteChange{Op: OpDelete, GUID: guid, Note: state.note, Notetype: state.notetype, Deck: state.deck})
		}
	}
	sort.Slice(changes.Notes, func(i, j int) bool { return changes.Notes[i].GUID < changes.Notes[j].GUID })

	oldNTs, err := notetypesByName(old)
	if err != nil {
		return nil, err
	}
	curNTs, err := notetypesByName(cur)
	if err != nil {
		return nil, err
	}
	for name, nt := range curNTs {
		prior, exists := oldNTs[name]
		switch {
		case !exists:
			changes.Notetypes = append(changes.Notetypes, NotetypeChange{Op: OpAdd, Notetype: nt})
		case prior.ContentHash() != nt.ContentHash():
			changes.Notetypes = append(changes.Notetypes, NotetypeChange{Op: OpUpdate, Notetype: nt})
		}
	}
	for name, nt := range oldNTs {
		if _, exists := curNTs[name]; !exists {
			changes.Notetypes = append(changes.Notetypes, NotetypeChange{Op: OpDelete, Notetype: nt})
		}
	}
	sort.Slice(changes.Notetypes, func(i, j int) bool {
		return changes.Notetypes[i].Notetype.Name < changes.Notetypes[j].Notetype.Name
	})

	oldDecks, err := deckSet(old)
	if err != nil {
		return nil, err
	}
	curDecks, err := deckSet(cur)
	if err != nil {
		return nil, err
	}
	for name := range curDecks {
		if !oldDecks[name] {
			changes.Decks = append(changes.Decks, DeckChange{Op: OpAdd, Name: name})
		}
	}
	for name := range oldDecks {
		if !curDecks[name] {
			changes.Decks = append(changes.Decks, DeckChange{Op: OpDelete, Name: name})
		}
	}
	sort.Slice(changes.Decks, func(i, j int) bool { return changes.Decks[i].Name < changes.Decks[j].Name })

	return changes, nil
}

func statesEqual(a, b noteState) bool {
	if a.notetype != b.notetype || a.deck != b.deck {
		return false
	}
	if !reflect.DeepEqual(a.note.Tags, b.note.Tags) {
		return false
	}
	return reflect.DeepEqual(a.note.Fields, b.note.Fields)
}

func collectNotes(col *anki.Collection) (map[string]noteState, error) {
	notetypes, err := notetypesByID(col)
	if err != nil {
		return nil, err
	}
	nids, err := col.NoteIDs()
	if err != nil {
		return nil, err
	}
	states := make(map[string]noteState, len(nids))
	for _, nid := range nids {
		note, err := col.GetNote(nid)
		if err != nil {
			return nil, err
		}
		deck, err := col.NoteDeckName(nid)
		if err != nil {
			return nil, err
		}
		states[note.GUID] = noteState{
			note:     note,
			notetype: notetypes[note.MID],
			deck:     deck,
		}
	}
	return states, nil
}

func notetypesByID(col *anki.Collection) (map[int64]string, error) {
	nts, err := col.Notetypes()
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(nts))
	for _, nt := range nts {
		names[nt.ID] = nt.Name
	}
	return names, nil
}

func notetypesByName(col *anki.Collection) (map[string]domain.Notetype, error) {
	nts, err := col.Notetypes()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.Notetype, len(nts))
	for _, nt := range nts {
		byName[nt.Name] = nt
	}
	return byName, nil
}

func deckSet(col *anki.Collection) (map[string]bool, error) {
	names, err := col.DeckNames()
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set, nil
}
