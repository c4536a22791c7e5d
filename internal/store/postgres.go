package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps documents in the documents table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	config.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts a document row.
func (s *PostgresStore) Append(ctx context.Context, path string, doc Document) (Document, error) {
	defer observe("postgres", "append", time.Now())

	doc, err := prepare(path, doc)
	if err != nil {
		return doc, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO documents (id, path, ts, data)
		VALUES ($1, $2, $3, $4)
	`, doc.ID, doc.Path, doc.Timestamp, string(doc.Data))
	if err != nil {
		return doc, err
	}
	return doc, nil
}

// Subscribe returns the newest q.Limit documents, oldest first.
func (s *PostgresStore) Subscribe(ctx context.Context, q Query) ([]Document, error) {
	defer observe("postgres", "subscribe", time.Now())

	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, path, ts, data::text FROM (
			SELECT seq, id, path, ts, data
			FROM documents
			WHERE path = $1
			ORDER BY ts DESC, seq DESC
			LIMIT $2
		) recent
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
