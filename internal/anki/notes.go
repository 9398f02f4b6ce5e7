package anki

import (
	"crypto/sha1"
	"database/sql"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
)

// Fields-health statuses, mirroring Anki's fields_check codes.
const (
	HealthOK        = 0
	HealthEmpty     = 1
	HealthDuplicate = 2
)

var tagRE = regexp.MustCompile(`<[^<]+?>`)

// NoteIDs enumerates every note id in the collection.
func (c *Collection) NoteIDs() ([]int64, error) {
	rows, err := c.conn.Query(`SELECT id FROM notes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate note ids: %w", err)
	}
	defer rows.Close()

	var nids []int64
	for rows.Next() {
		var nid int64
		if err := rows.Scan(&nid); err != nil {
			return nil, fmt.Errorf("failed to scan note id: %w", err)
		}
		nids = append(nids, nid)
	}
	return nids, rows.Err()
}

// GetNote loads a note by id, resolving field names through its notetype.
func (c *Collection) GetNote(nid int64) (domain.ColNote, error) {
	var guid, tags, flds, sfld string
	var mid, mod int64
	row := c.conn.QueryRow(`SELECT guid, mid, mod, tags, flds, sfld FROM notes WHERE id = ?`, nid)
	if err := row.Scan(&guid, &mid, &mod, &tags, &flds, &sfld); err != nil {
		if err == sql.ErrNoRows {
			return domain.ColNote{}, &apperr.MissingNoteIDError{NID: nid, GUID: ""}
		}
		return domain.ColNote{}, fmt.Errorf("failed to load note %d: %w", nid, err)
	}

	nt, ok, err := c.Notetype(mid)
	if err != nil {
		return domain.ColNote{}, err
	}
	if !ok {
		return domain.ColNote{}, &apperr.MissingNotetypeError{Name: fmt.Sprintf("mid %d", mid)}
	}

	texts := strings.Split(flds, fieldSeparator)
	fields := make([]domain.FieldValue, 0, len(nt.Flds))
	for i, f := range nt.Flds {
		text := ""
		if i < len(texts) {
			text = texts[i]
		}
		fields = append(fields, domain.FieldValue{Name: f.Name, Text: text})
	}

	sortText := sfld
	if nt.SortF < len(texts) {
		sortText = texts[nt.SortF]
	}
	return domain.ColNote{
		NID:      nid,
		GUID:     guid,
		MID:      mid,
		Mod:      mod,
		Tags:     splitTags(tags),
		Fields:   fields,
		SortText: sortText,
	}, nil
}

// NoteMetadata builds the guid -> (nid, mod, mid) map from the whole notes
// table in one query.
func (c *Collection) NoteMetadata() (map[string]domain.NoteMetadata, error) {
	rows, err := c.conn.Query(`SELECT id, guid, mod, mid FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("failed to query note metadata: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]domain.NoteMetadata)
	for rows.Next() {
		var nid, mod, mid int64
		var guid string
		if err := rows.Scan(&nid, &guid, &mod, &mid); err != nil {
			return nil, fmt.Errorf("failed to scan note metadata: %w", err)
		}
		meta[guid] = domain.NoteMetadata{NID: nid, Mod: mod, MID: mid}
	}
	return meta, rows.Err()
}

// AddNote inserts a note with an explicit id and guid, creating one card per
// template of its notetype in the given deck.
func (c *Collection) AddNote(nid int64, guid string, mid int64, did int64, tags []string, fields []string) error {
	nt, ok, err := c.Notetype(mid)
	if err != nil {
		return err
	}
	if !ok {
		return &apperr.MissingNotetypeError{Name: fmt.Sprintf("mid %d", mid)}
	}

	now := time.Now().Unix()
	sfld, csum := sortFieldAndChecksum(nt, fields)
	_, err = c.conn.Exec(`
		INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		VALUES (?, ?, ?, ?, -1, ?, ?, ?, ?, 0, '')
	`, nid, guid, mid, now, joinTags(tags), strings.Join(fields, fieldSeparator), sfld, csum)
	if err != nil {
		return fmt.Errorf("failed to insert note %d: %w", nid, err)
	}

	for _, tmpl := range nt.Tmpls {
		cid := nid + int64(tmpl.Ord)
		if err := c.insertCard(cid, nid, did, tmpl.Ord, now); err != nil {
			return err
		}
	}
	return c.bump()
}

func (c *Collection) insertCard(cid, nid, did int64, ord int, now int64) error {
	// Scan for a free card id; cids are derived from the nid and may
	// collide when notetypes share a timestamp window.
	for {
		res, err := c.conn.Exec(`
			INSERT OR IGNORE INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
			VALUES (?, ?, ?, ?, ?, -1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, '')
		`, cid, nid, did, ord, now)
		if err != nil {
			return fmt.Errorf("failed to insert card for note %d: %w", nid, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		cid++
	}
}

// RemoveNotes deletes the given notes and their cards.
func (c *Collection) RemoveNotes(nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(nids)), ",")
	args := make([]any, len(nids))
	for i, nid := range nids {
		args[i] = nid
	}
	if _, err := c.conn.Exec(`DELETE FROM cards WHERE nid IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete cards: %w", err)
	}
	if _, err := c.conn.Exec(`DELETE FROM notes WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return c.bump()
}

// SetDeck moves all of a note's cards into the given deck.
func (c *Collection) SetDeck(nid int64, did int64) error {
	_, err := c.conn.Exec(`UPDATE cards SET did = ?, mod = ? WHERE nid = ?`, did, time.Now().Unix(), nid)
	if err != nil {
		return fmt.Errorf("failed to move cards of note %d: %w", nid, err)
	}
	return nil
}

// UpdateNote overwrites a note's tags and field contents, refreshing the
// sort field and checksum.
func (c *Collection) UpdateNote(nid int64, tags []string, fields []string) error {
	var mid int64
	row := c.conn.QueryRow(`SELECT mid FROM notes WHERE id = ?`, nid)
	if err := row.Scan(&mid); err != nil {
		if err == sql.ErrNoRows {
			return &apperr.MissingNoteIDError{NID: nid}
		}
		return fmt.Errorf("failed to load note %d: %w", nid, err)
	}
	nt, ok, err := c.Notetype(mid)
	if err != nil {
		return err
	}
	if !ok {
		return &apperr.MissingNotetypeError{Name: fmt.Sprintf("mid %d", mid)}
	}

	sfld, csum := sortFieldAndChecksum(nt, fields)
	_, err = c.conn.Exec(`
		UPDATE notes SET tags = ?, flds = ?, sfld = ?, csum = ?, mod = ?, usn = -1 WHERE id = ?
	`, joinTags(tags), strings.Join(fields, fieldSeparator), sfld, csum, time.Now().Unix(), nid)
	if err != nil {
		return fmt.Errorf("failed to update note %d: %w", nid, err)
	}
	return c.bump()
}

// FieldsCheck runs the fields health check for a note: 1 means the first
// field is empty, 2 means another note of the same notetype has an identical
// first field.
func (c *Collection) FieldsCheck(nid int64) (int, error) {
	var mid, csum int64
	var flds string
	row := c.conn.QueryRow(`SELECT mid, csum, flds FROM notes WHERE id = ?`, nid)
	if err := row.Scan(&mid, &csum, &flds); err != nil {
		if err == sql.ErrNoRows {
			return 0, &apperr.MissingNoteIDError{NID: nid}
		}
		return 0, fmt.Errorf("failed to load note %d: %w", nid, err)
	}

	first := strings.SplitN(flds, fieldSeparator, 2)[0]
	if strings.TrimSpace(stripHTML(first)) == "" {
		return HealthEmpty, nil
	}

	var dupes int
	row = c.conn.QueryRow(`SELECT count(*) FROM notes WHERE csum = ? AND mid = ? AND id != ?`, csum, mid, nid)
	if err := row.Scan(&dupes); err != nil {
		return 0, fmt.Errorf("failed to count duplicates for note %d: %w", nid, err)
	}
	if dupes > 0 {
		return HealthDuplicate, nil
	}
	return HealthOK, nil
}

func sortFieldAndChecksum(nt domain.Notetype, fields []string) (string, int64) {
	sfld := ""
	if nt.SortF < len(fields) {
		sfld = stripHTML(fields[nt.SortF])
	}
	first := ""
	if len(fields) > 0 {
		first = stripHTML(fields[0])
	}
	sum := sha1.Sum([]byte(first))
	return sfld, int64(binary.BigEndian.Uint32(sum[:4]))
}

func stripHTML(s string) string {
	return tagRE.ReplaceAllString(s, "")
}

// Tags are stored space-separated with sentinel spaces at both ends.
func joinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return " " + strings.Join(tags, " ") + " "
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Fields(raw) {
		tags = append(tags, t)
	}
	return tags
}
