package entry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS grocery_entries (
    user_id TEXT NOT NULL,
    id TEXT NOT NULL,
    date TEXT NOT NULL,
    total_amount REAL NOT NULL,
    discount_amount REAL NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, id)
);
`

// Ensure both backends implement DB
var (
	_ DB = (*BoltDB)(nil)
	_ DB = (*SQLiteDB)(nil)
)

// SQLiteDB implements DB on a single SQLite table keyed by (user_id, id)
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at path, creating parent directories and the schema
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one writer at a time, matches sqlite's own locking
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry              Entry
		date               string
		created, updatedAt int64
	)
	if err := row.Scan(&entry.ID, &date, &entry.TotalAmount, &entry.DiscountAmount, &created, &updatedAt); err != nil {
		return nil, err
	}
	d, err := time.Parse(time.RFC3339Nano, date)
	if err != nil {
		return nil, fmt.Errorf("parsing stored date %q: %w", date, err)
	}
	entry.Date = d
	entry.CreatedAt = time.Unix(0, created).UTC()
	entry.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &entry, nil
}

// CreateEntry inserts a new entry for the subject
func (s *SQLiteDB) CreateEntry(ctx context.Context, subject string, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO grocery_entries (user_id, id, date, total_amount, discount_amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		subject, entry.ID, entry.Date.UTC().Format(time.RFC3339Nano),
		entry.TotalAmount, entry.DiscountAmount,
		entry.CreatedAt.UnixNano(), entry.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// ListEntries returns all entries of the subject
func (s *SQLiteDB) ListEntries(ctx context.Context, subject string) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, total_amount, discount_amount, created_at, updated_at
		 FROM grocery_entries WHERE user_id = ?`,
		subject,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	list := make([]*Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		list = append(list, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return list, nil
}

// UpdateEntry applies a change to an existing entry inside a transaction
func (s *SQLiteDB) UpdateEntry(ctx context.Context, subject, id string, apply func(*Entry)) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT id, date, total_amount, discount_amount, created_at, updated_at
		 FROM grocery_entries WHERE user_id = ? AND id = ?`,
		subject, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading entry: %w", err)
	}

	apply(entry)
	entry.ID = id

	_, err = tx.ExecContext(ctx,
		`UPDATE grocery_entries
		 SET date = ?, total_amount = ?, discount_amount = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		entry.Date.UTC().Format(time.RFC3339Nano), entry.TotalAmount, entry.DiscountAmount,
		entry.UpdatedAt.UnixNano(), subject, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes an entry of the subject
func (s *SQLiteDB) DeleteEntry(ctx context.Context, subject, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM grocery_entries WHERE user_id = ? AND id = ?",
		subject, id,
	)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
