package domain

// FieldValue is a single named field of a note. Order matters: fields are
// stored positionally in the collection and positionally in note files.
type FieldValue struct {
	Name string
	Text string
}

// DeckNote is a note as parsed from a markdown note file, together with the
// deck derived from the file's directory.
type DeckNote struct {
	GUID     string
	Notetype string
	Deck     string
	Tags     []string
	Fields   []FieldValue
}

// FieldNames returns the field names in order.
func (n DeckNote) FieldNames() []string {
	names := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		names[i] = f.Name
	}
	return names
}

// FieldTexts returns the field contents in order.
func (n DeckNote) FieldTexts() []string {
	texts := make([]string, len(n.Fields))
	for i, f := range n.Fields {
		texts[i] = f.Text
	}
	return texts
}

// Field returns the text of the named field and whether it exists.
func (n DeckNote) Field(name string) (string, bool) {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Text, true
		}
	}
	return "", false
}

// ColNote is a note as loaded from the collection database.
type ColNote struct {
	NID      int64
	GUID     string
	MID      int64
	Mod      int64
	Tags     []string
	Fields   []FieldValue
	SortText string
}

// Field returns the text of the named field and whether it exists.
func (n ColNote) Field(name string) (string, bool) {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Text, true
		}
	}
	return "", false
}

// NoteMetadata is one row of the guid -> (nid, mod, mid) map built once per
// push from the whole notes table.
type NoteMetadata struct {
	NID int64
	Mod int64
	MID int64
}
