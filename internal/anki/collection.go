// Package anki is the boundary to the collection database: a schema-11
// `.anki2` sqlite file plus its sibling media directory. All reads and
// writes of notes, notetypes, decks, and media go through this package; the
// pipelines never touch the sqlite schema directly.
package anki

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver
)

const (
	fieldSeparator = "\x1f"
	mediaSuffix    = ".media"
)

// Collection wraps an open collection database.
type Collection struct {
	conn *sql.DB
	path string
}

// Open opens an existing collection file.
func Open(path string) (*Collection, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("collection file: %w", err)
	}
	return open(path)
}

// Create initializes a fresh collection at path with an empty notetype
// registry and the default deck.
func Create(path string) (*Collection, error) {
	col, err := open(path)
	if err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	decks, _ := json.Marshal(map[string]deckJSON{
		"1": {ID: 1, Name: "Default"},
	})
	_, err = col.conn.Exec(`
		INSERT INTO col (id, crt, mod, scm, ver, dty, usn, ls, conf, models, decks, dconf, tags)
		VALUES (1, ?, ?, ?, 11, 0, 0, 0, '{}', '{}', ?, '{}', '{}')
	`, now, now, now, string(decks))
	if err != nil {
		col.Close()
		return nil, fmt.Errorf("failed to initialize collection: %w", err)
	}
	return col, nil
}

func open(path string) (*Collection, error) {
	conn, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(100)")
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to collection: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply collection schema: %w", err)
	}
	return &Collection{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (c *Collection) Close() error {
	return c.conn.Close()
}

// Path returns the collection file path.
func (c *Collection) Path() string { return c.path }

// MediaDir returns the collection's sibling media directory, e.g.
// `collection.media` next to `collection.anki2`. The directory is created if
// absent.
func (c *Collection) MediaDir() (string, error) {
	stem := strings.TrimSuffix(c.path, filepath.Ext(c.path))
	dir := stem + mediaSuffix
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}
	return dir, nil
}

type deckJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// bump marks the collection modified.
func (c *Collection) bump() error {
	_, err := c.conn.Exec(`UPDATE col SET mod = ?`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to touch collection mod time: %w", err)
	}
	return nil
}

func (c *Collection) readRegistry(column string, out any) error {
	var raw string
	row := c.conn.QueryRow(`SELECT ` + column + ` FROM col WHERE id = 1`)
	if err := row.Scan(&raw); err != nil {
		return fmt.Errorf("failed to read col.%s: %w", column, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode col.%s: %w", column, err)
	}
	return nil
}

func (c *Collection) writeRegistry(column string, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode col.%s: %w", column, err)
	}
	if _, err := c.conn.Exec(`UPDATE col SET `+column+` = ?, mod = ?`, string(raw), time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to write col.%s: %w", column, err)
	}
	return nil
}

// freshID returns an id not present in the given registry, starting from the
// current epoch milliseconds the way Anki mints ids.
func freshID(taken map[string]bool) int64 {
	id := time.Now().UnixMilli()
	for taken[strconv.FormatInt(id, 10)] {
		id++
	}
	return id
}
