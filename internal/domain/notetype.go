package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Field is a single field definition of a notetype.
type Field struct {
	Name   string `json:"name"`
	Ord    int    `json:"ord"`
	Sticky bool   `json:"sticky"`
}

// Template is a single card template of a notetype.
type Template struct {
	Name string `json:"name"`
	Ord  int    `json:"ord"`
	QFmt string `json:"qfmt"`
	AFmt string `json:"afmt"`
}

// Notetype ("model") is the field/template definition a note conforms to.
// Notetype names are unique within a collection; identity for merge purposes
// is content-based via ContentHash, not ID-based.
type Notetype struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	Flds  []Field    `json:"flds"`
	Tmpls []Template `json:"tmpls"`
	CSS   string     `json:"css"`
	SortF int        `json:"sortf"`
}

// FieldNames returns the notetype's field names in ordinal order.
func (nt Notetype) FieldNames() []string {
	names := make([]string, len(nt.Flds))
	for i, f := range nt.Flds {
		names[i] = f.Name
	}
	return names
}

// ContentHash returns a digest of the notetype with its ID zeroed, so that
// two notetypes with identical content compare equal regardless of the IDs
// they were assigned in their respective collections.
func (nt Notetype) ContentHash() string {
	clone := nt
	clone.ID = 0
	payload, err := json.Marshal(clone)
	if err != nil {
		// Notetype contains only marshalable kinds.
		panic(err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
