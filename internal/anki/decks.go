package anki

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/conorfennell/decksync/internal/domain"
)

const deckSeparator = "::"

func (c *Collection) deckRegistry() (map[string]deckJSON, error) {
	decks := make(map[string]deckJSON)
	if err := c.readRegistry("decks", &decks); err != nil {
		return nil, err
	}
	return decks, nil
}

// DeckTree builds the deck hierarchy. The returned node is a synthetic root
// (DID 0) whose children are the top-level decks, sorted by name.
func (c *Collection) DeckTree() (*domain.Deck, error) {
	decks, err := c.deckRegistry()
	if err != nil {
		return nil, err
	}

	root := &domain.Deck{}
	nodes := map[string]*domain.Deck{"": root}

	names := make([]string, 0, len(decks))
	byName := make(map[string]deckJSON, len(decks))
	for _, d := range decks {
		names = append(names, d.Name)
		byName[d.Name] = d
	}
	sort.Strings(names)

	for _, fullname := range names {
		segments := strings.Split(fullname, deckSeparator)
		prefix := ""
		for _, seg := range segments {
			childName := seg
			childFull := childName
			if prefix != "" {
				childFull = prefix + deckSeparator + childName
			}
			if _, ok := nodes[childFull]; !ok {
				node := &domain.Deck{Name: childName, FullName: childFull}
				if d, ok := byName[childFull]; ok {
					node.DID = d.ID
				}
				nodes[prefix].Children = append(nodes[prefix].Children, node)
				nodes[childFull] = node
			}
			prefix = childFull
		}
	}
	return root, nil
}

// DeckID resolves a "::"-joined deck name to its id, creating the deck (and
// any missing ancestors) when create is set.
func (c *Collection) DeckID(fullname string, create bool) (int64, bool, error) {
	decks, err := c.deckRegistry()
	if err != nil {
		return 0, false, err
	}
	for _, d := range decks {
		if d.Name == fullname {
			return d.ID, true, nil
		}
	}
	if !create {
		return 0, false, nil
	}

	// Create missing ancestors first so the tree stays connected.
	segments := strings.Split(fullname, deckSeparator)
	var id int64
	for i := range segments {
		name := strings.Join(segments[:i+1], deckSeparator)
		found := false
		for _, d := range decks {
			if d.Name == name {
				id = d.ID
				found = true
				break
			}
		}
		if found {
			continue
		}
		taken := make(map[string]bool, len(decks))
		for key := range decks {
			taken[key] = true
		}
		id = freshID(taken)
		decks[strconv.FormatInt(id, 10)] = deckJSON{ID: id, Name: name}
	}
	if err := c.writeRegistry("decks", decks); err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// DeckNames lists every deck's full "::"-joined name, sorted.
func (c *Collection) DeckNames() ([]string, error) {
	decks, err := c.deckRegistry()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(decks))
	for _, d := range decks {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names, nil
}

// NoteDeckName returns the full name of the deck holding the note's first
// card, or "" when the note has no cards.
func (c *Collection) NoteDeckName(nid int64) (string, error) {
	var did int64
	row := c.conn.QueryRow(`SELECT did FROM cards WHERE nid = ? ORDER BY id LIMIT 1`, nid)
	if err := row.Scan(&did); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to find deck for note %d: %w", nid, err)
	}
	decks, err := c.deckRegistry()
	if err != nil {
		return "", err
	}
	for _, d := range decks {
		if d.ID == did {
			return d.Name, nil
		}
	}
	return "", nil
}

// Card is the card-level view the deck-tree writer needs.
type Card struct {
	CID int64
	NID int64
	DID int64
	Ord int
}

// CardsInDeck lists the cards homed in a single deck; with children set it
// includes every descendant deck's cards too.
func (c *Collection) CardsInDeck(did int64, children bool) ([]Card, error) {
	dids := []int64{did}
	if children {
		decks, err := c.deckRegistry()
		if err != nil {
			return nil, err
		}
		var name string
		for _, d := range decks {
			if d.ID == did {
				name = d.Name
				break
			}
		}
		for _, d := range decks {
			if strings.HasPrefix(d.Name, name+deckSeparator) {
				dids = append(dids, d.ID)
			}
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dids)), ",")
	args := make([]any, len(dids))
	for i, id := range dids {
		args[i] = id
	}
	rows, err := c.conn.Query(`SELECT id, nid, did, ord FROM cards WHERE did IN (`+placeholders+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards for deck %d: %w", did, err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var card Card
		if err := rows.Scan(&card.CID, &card.NID, &card.DID, &card.Ord); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}
