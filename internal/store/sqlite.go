package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps documents in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/rzx.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/rzx.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		path TEXT NOT NULL,
		ts INTEGER NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_path_ts ON documents(path, ts);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Append inserts a document row.
func (s *SQLiteStore) Append(ctx context.Context, path string, doc Document) (Document, error) {
	defer observe("sqlite", "append", time.Now())

	doc, err := prepare(path, doc)
	if err != nil {
		return doc, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, path, ts, data)
		VALUES (?, ?, ?, ?)
	`, doc.ID, doc.Path, doc.Timestamp, string(doc.Data))
	if err != nil {
		return doc, err
	}
	return doc, nil
}

// Subscribe returns the newest q.Limit documents, oldest first.
func (s *SQLiteStore) Subscribe(ctx context.Context, q Query) ([]Document, error) {
	defer observe("sqlite", "subscribe", time.Now())

	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, ts, data FROM (
			SELECT seq, id, path, ts, data
			FROM documents
			WHERE path = ?
			ORDER BY ts DESC, seq DESC
			LIMIT ?
		)
		ORDER BY ts ASC, seq ASC
	`, q.Path, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		var data string
		if err := rows.Scan(&doc.ID, &doc.Path, &doc.Timestamp, &data); err != nil {
			return nil, err
		}
		doc.Data = []byte(data)
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}
