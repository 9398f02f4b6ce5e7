package domain

// ChangeType classifies a single note-file change between two points in
// history. The values mirror git's single-letter change codes.
type ChangeType string

const (
	Added       ChangeType = "A"
	Deleted     ChangeType = "D"
	Renamed     ChangeType = "R"
	Modified    ChangeType = "M"
	TypeChanged ChangeType = "T"
)

// Delta is a single classified change to a note file. Path is the absolute
// location of the surviving side inside its snapshot (the old side for
// deletions, the new side otherwise); RelPath is the same path relative to
// the snapshot root, from which the owning deck is derived.
type Delta struct {
	Status  ChangeType
	Path    string
	RelPath string
}

// Deck is one node of the collection's deck tree. FullName is the
// "::"-joined deck path; Children are sorted by name.
type Deck struct {
	DID      int64
	Name     string
	FullName string
	Children []*Deck
}

// Postorder returns every descendant deck (and the node itself when it is
// not the synthetic root) with children before parents.
func (d *Deck) Postorder() []*Deck {
	var out []*Deck
	for _, c := range d.Children {
		out = append(out, c.Postorder()...)
	}
	if d.DID != 0 {
		out = append(out, d)
	}
	return out
}

// Preorder returns every descendant deck with parents before children.
func (d *Deck) Preorder() []*Deck {
	var out []*Deck
	if d.DID != 0 {
		out = append(out, d)
	}
	for _, c := range d.Children {
		out = append(out, c.Preorder()...)
	}
	return out
}
