package cache

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/matzehuels/zkbclient/pkg/errors"
)

// SQLiteStore keeps documents in a single SQLite table.
// Each Save is one INSERT OR REPLACE of the serialized document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at filename.
// If filename is empty, a private in-memory database is used.
func NewSQLiteStore(ctx context.Context, filename string) (*SQLiteStore, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "open sqlite database")
	}
	// An in-memory database lives as long as its only connection.
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			updated_at INTEGER NOT NULL,
			body BLOB NOT NULL
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(errors.ErrCodeCache, err, "prepare sqlite database")
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Load returns the document stored under key.
func (s *SQLiteStore) Load(ctx context.Context, key string) (*Document, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "load document %s", key)
	}
	return decode(key, body)
}

// Save replaces the document stored under key.
func (s *SQLiteStore) Save(ctx context.Context, key string, doc *Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO documents (key, updated_at, body) VALUES (?, ?, ?)",
		key, time.Now().Unix(), body)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCache, err, "save document %s", key)
	}
	return nil
}

// Keys lists all stored keys in lexical order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM documents ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCache, err, "list documents")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(errors.ErrCodeCache, err, "list documents")
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Clear deletes every document.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents")
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeCache, err, "clear documents")
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements Store, Lister and Clearer.
var (
	_ Store   = (*SQLiteStore)(nil)
	_ Lister  = (*SQLiteStore)(nil)
	_ Clearer = (*SQLiteStore)(nil)
)
