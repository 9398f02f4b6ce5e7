package anki

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/decksync/internal/apperr"
	_ "modernc.org/sqlite"
)

// Lock is an exclusive advisory lock on a collection file, implemented as an
// open EXCLUSIVE sqlite transaction. It is held for the full duration of a
// pull or push.
type Lock struct {
	db   *sql.DB
	conn *sql.Conn
}

// AcquireLock takes the exclusive lock, failing fast (no retry or backoff)
// with a LockedError when another process holds it.
func AcquireLock(ctx context.Context, path string) (*Lock, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(100)")
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for locking: %w", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open locking connection: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		conn.Close()
		db.Close()
		return nil, &apperr.LockedError{Path: path, Err: err}
	}
	return &Lock{db: db, conn: conn}, nil
}

// Release commits the empty transaction and closes the connection.
func (l *Lock) Release() error {
	if l.conn != nil {
		_, _ = l.conn.ExecContext(context.Background(), "COMMIT")
		l.conn.Close()
		l.conn = nil
	}
	if l.db != nil {
		err := l.db.Close()
		l.db = nil
		return err
	}
	return nil
}
