package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDocumentTTL = 24 * time.Hour

// RedisStore keeps each path as a sorted set scored by timestamp.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient parses redisURL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// NewRedisStore creates a new Redis store. A zero ttl means 24 hours.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	client, err := NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, err
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultDocumentTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Client exposes the underlying connection, shared with the rate limiter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() {
	s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// documentsKey returns the key for a path's sorted set.
func documentsKey(path string) string {
	return fmt.Sprintf("doc:%s", path)
}

// Append stores a document in the path's sorted set and refreshes its TTL.
func (s *RedisStore) Append(ctx context.Context, path string, doc Document) (Document, error) {
	defer observe("redis", "append", time.Now())

	doc, err := prepare(path, doc)
	if err != nil {
		return doc, err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return doc, err
	}

	key := documentsKey(doc.Path)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(doc.Timestamp),
		Member: string(data),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return doc, err
	}

	return doc, nil
}

// Subscribe returns the newest q.Limit documents, oldest first.
func (s *RedisStore) Subscribe(ctx context.Context, q Query) ([]Document, error) {
	defer observe("redis", "subscribe", time.Now())

	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	results, err := s.client.ZRange(ctx, documentsKey(q.Path), -int64(q.Limit), -1).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(results))
	for _, data := range results {
		var doc Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}

	return docs, nil
}
