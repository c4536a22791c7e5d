// Package store implements the Fallback Channel: an append-only document
// store addressed by path, read back in timestamp order.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/rzx/internal/metrics"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	OrderByTimestamp = "timestamp"
)

var (
	ErrUnsupportedOrder = errors.New("unsupported order: only timestamp ordering is available")
	ErrEmptyPath        = errors.New("document path is required")
	ErrUnknownBackend   = errors.New("unknown document store backend")
)

// Document is one entry appended under a path.
type Document struct {
	ID        string          `json:"id"`
	Path      string          `json:"path"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Data      json.RawMessage `json:"data"`
}

// Query selects the most recent documents under Path.
type Query struct {
	Path    string
	OrderBy string
	Limit   int
}

// DocumentStore defines the interface for Fallback Channel storage.
// MemoryStore, RedisStore, PostgresStore and SQLiteStore implement it.
type DocumentStore interface {
	// Append stores doc under path, assigning ID and Timestamp when unset.
	Append(ctx context.Context, path string, doc Document) (Document, error)
	// Subscribe returns the last Limit documents under the path, oldest first.
	Subscribe(ctx context.Context, q Query) ([]Document, error)

	Ping(ctx context.Context) error
	Close()
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // memory, redis, postgres or sqlite
	DatabaseURL string
	RedisURL    string
	SQLitePath  string
	TTL         time.Duration
}

// Open connects to the configured backend. Postgres migrations are applied first.
func Open(ctx context.Context, opts Options) (DocumentStore, error) {
	switch opts.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.TTL)
	case "postgres":
		if err := RunMigrations(opts.DatabaseURL); err != nil {
			return nil, err
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// normalize validates q and fills in defaults.
func (q Query) normalize() (Query, error) {
	q.Path = strings.TrimSpace(q.Path)
	if q.Path == "" {
		return q, ErrEmptyPath
	}
	if q.OrderBy == "" {
		q.OrderBy = OrderByTimestamp
	}
	if q.OrderBy != OrderByTimestamp {
		return q, fmt.Errorf("%w: %q", ErrUnsupportedOrder, q.OrderBy)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q, nil
}

// prepare fills in the generated fields of a document about to be appended.
func prepare(path string, doc Document) (Document, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return doc, ErrEmptyPath
	}
	doc.Path = path
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	if doc.Timestamp == 0 {
		doc.Timestamp = time.Now().UnixMilli()
	}
	if len(doc.Data) == 0 {
		doc.Data = json.RawMessage("{}")
	}
	if !json.Valid(doc.Data) {
		return doc, errors.New("document data must be valid JSON")
	}
	return doc, nil
}

func observe(backend, op string, start time.Time) {
	metrics.DocumentStoreLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
