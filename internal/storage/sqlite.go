package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS ar_sessions (
	session_id TEXT PRIMARY KEY,
	meta TEXT NOT NULL DEFAULT '{}',
	objects TEXT NOT NULL DEFAULT '[]',
	archived INTEGER NOT NULL DEFAULT 0
);`

// SQLite keeps all sessions in a single database, one row per session with
// the objects document and metadata as whole-value columns. A single UPDATE
// gives the same atomic-replace guarantee the filesystem backend gets from
// rename. Archive flips a flag instead of moving files.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(url string) (*SQLite, error) {
	db, err := sql.Open("sqlite", url)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (b *SQLite) ReadObjects(sessionID string) ([]byte, error) {
	return b.readColumn(sessionID, "objects")
}

func (b *SQLite) WriteObjects(sessionID string, data []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO ar_sessions (session_id, objects) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET objects = excluded.objects
	`, sessionID, string(data))
	return err
}

func (b *SQLite) ReadMeta(sessionID string) ([]byte, error) {
	return b.readColumn(sessionID, "meta")
}

func (b *SQLite) WriteMeta(sessionID string, data []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO ar_sessions (session_id, meta) VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET meta = excluded.meta
	`, sessionID, string(data))
	return err
}

func (b *SQLite) readColumn(sessionID, column string) ([]byte, error) {
	// column is one of two compile-time constants, never caller input.
	var data string
	err := b.db.QueryRow(
		`SELECT `+column+` FROM ar_sessions WHERE session_id = ? AND archived = 0`,
		sessionID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return []byte(data), nil
}

func (b *SQLite) List() ([]string, error) {
	rows, err := b.db.Query(`SELECT session_id FROM ar_sessions WHERE archived = 0 ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *SQLite) Archive(sessionID string) error {
	res, err := b.db.Exec(`UPDATE ar_sessions SET archived = 1 WHERE session_id = ? AND archived = 0`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (b *SQLite) Delete(sessionID string) error {
	_, err := b.db.Exec(`DELETE FROM ar_sessions WHERE session_id = ?`, sessionID)
	return err
}

func (b *SQLite) Close() error { return b.db.Close() }
