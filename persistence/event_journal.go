package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// JournalEntry is one recorded event.
type JournalEntry struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventJournal records every published engine event in a SQLite database.
// It never stores index contents.
type EventJournal struct {
	db  *sql.DB
	now func() time.Time
}

// OpenEventJournal opens/creates the journal at dbPath.
func OpenEventJournal(dbPath string) (*EventJournal, error) {
	if dbPath == "" {
		return nil, errors.New("journal path required")
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" journals coherent.
	db.SetMaxOpenConns(1)
	j := &EventJournal{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *EventJournal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		body TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

// Append records body.
func (j *EventJournal) Append(ctx context.Context, body string) error {
	_, err := j.db.ExecContext(ctx, `INSERT INTO events (body, created_at) VALUES (?, ?)`, body, j.now())
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (j *EventJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	query := `SELECT id, body, created_at FROM events ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()
	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of recorded events.
func (j *EventJournal) Count(ctx context.Context) (int, error) {
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Prune keeps only the newest keep entries and returns how many were removed.
// keep <= 0 disables pruning.
func (j *EventJournal) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("journal prune: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the database.
func (j *EventJournal) Close() error {
	return j.db.Close()
}
