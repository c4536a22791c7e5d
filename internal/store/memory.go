package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]Document)}
}

func (s *MemoryStore) Append(ctx context.Context, path string, doc Document) (Document, error) {
	defer observe("memory", "append", time.Now())

	doc, err := prepare(path, doc)
	if err != nil {
		return doc, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.docs[doc.Path], doc)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp < list[j].Timestamp })
	s.docs[doc.Path] = list
	return doc, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, q Query) ([]Document, error) {
	defer observe("memory", "subscribe", time.Now())

	q, err := q.normalize()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.docs[q.Path]
	if len(list) > q.Limit {
		list = list[len(list)-q.Limit:]
	}
	out := make([]Document, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}
