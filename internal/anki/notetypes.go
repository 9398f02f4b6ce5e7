package anki

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/decksync/internal/apperr"
	"github.com/conorfennell/decksync/internal/domain"
)

func (c *Collection) notetypeRegistry() (map[string]domain.Notetype, error) {
	models := make(map[string]domain.Notetype)
	if err := c.readRegistry("models", &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Notetypes lists every notetype, sorted by name.
func (c *Collection) Notetypes() ([]domain.Notetype, error) {
	models, err := c.notetypeRegistry()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notetype, 0, len(models))
	for _, nt := range models {
		out = append(out, nt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Notetype fetches a notetype by id.
func (c *Collection) Notetype(mid int64) (domain.Notetype, bool, error) {
	models, err := c.notetypeRegistry()
	if err != nil {
		return domain.Notetype{}, false, err
	}
	nt, ok := models[strconv.FormatInt(mid, 10)]
	return nt, ok, nil
}

// NotetypeByName fetches a notetype by its (unique) name.
func (c *Collection) NotetypeByName(name string) (domain.Notetype, bool, error) {
	models, err := c.notetypeRegistry()
	if err != nil {
		return domain.Notetype{}, false, err
	}
	for _, nt := range models {
		if nt.Name == name {
			return nt, true, nil
		}
	}
	return domain.Notetype{}, false, nil
}

// AddNotetype registers a notetype under a freshly minted id and returns it.
func (c *Collection) AddNotetype(nt domain.Notetype) (int64, error) {
	models, err := c.notetypeRegistry()
	if err != nil {
		return 0, err
	}
	taken := make(map[string]bool, len(models))
	for key := range models {
		taken[key] = true
	}
	nt.ID = freshID(taken)
	models[strconv.FormatInt(nt.ID, 10)] = nt
	if err := c.writeRegistry("models", models); err != nil {
		return 0, err
	}
	return nt.ID, nil
}

// ChangeNotetype moves a note from one notetype to another using an explicit
// remap from new field ordinals to old ones. A new ordinal mapped to -1 is
// cleared; any other source ordinal must exist on the old notetype.
func (c *Collection) ChangeNotetype(nid int64, oldNT, newNT domain.Notetype, fmap map[int]int) error {
	var flds string
	row := c.conn.QueryRow(`SELECT flds FROM notes WHERE id = ?`, nid)
	if err := row.Scan(&flds); err != nil {
		if err == sql.ErrNoRows {
			return &apperr.MissingNoteIDError{NID: nid}
		}
		return fmt.Errorf("failed to load note %d: %w", nid, err)
	}
	oldFields := strings.Split(flds, fieldSeparator)

	newFields := make([]string, len(newNT.Flds))
	for newOrd := range newNT.Flds {
		oldOrd, ok := fmap[newOrd]
		if !ok || oldOrd < 0 {
			continue
		}
		if oldOrd >= len(oldNT.Flds) {
			return &apperr.MissingFieldOrdinalError{Ord: oldOrd, Notetype: oldNT.Name}
		}
		if oldOrd < len(oldFields) {
			newFields[newOrd] = oldFields[oldOrd]
		}
	}

	sfld, csum := sortFieldAndChecksum(newNT, newFields)
	_, err := c.conn.Exec(`
		UPDATE notes SET mid = ?, flds = ?, sfld = ?, csum = ?, mod = ?, usn = -1 WHERE id = ?
	`, newNT.ID, strings.Join(newFields, fieldSeparator), sfld, csum, time.Now().Unix(), nid)
	if err != nil {
		return fmt.Errorf("failed to change notetype of note %d: %w", nid, err)
	}

	// Card ordinals beyond the new template count have no home; park them on
	// the first template the way Anki's change_notetype does by default.
	_, err = c.conn.Exec(`UPDATE cards SET ord = 0 WHERE nid = ? AND ord >= ?`, nid, len(newNT.Tmpls))
	if err != nil {
		return fmt.Errorf("failed to remap card ordinals of note %d: %w", nid, err)
	}
	return c.bump()
}

// FieldRemap builds the ordinal remap used by ChangeNotetype: new-notetype
// fields keep the content of the same-named old field, fields absent from
// the old notetype are cleared.
func FieldRemap(oldNT, newNT domain.Notetype) map[int]int {
	oldOrds := make(map[string]int, len(oldNT.Flds))
	for _, f := range oldNT.Flds {
		oldOrds[f.Name] = f.Ord
	}
	fmap := make(map[int]int, len(newNT.Flds))
	for _, f := range newNT.Flds {
		if ord, ok := oldOrds[f.Name]; ok {
			fmap[f.Ord] = ord
		} else {
			fmap[f.Ord] = -1
		}
	}
	return fmap
}
