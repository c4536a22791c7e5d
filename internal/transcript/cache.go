// Package transcript holds the per-client chat transcripts of the relay.
//
// Transcripts live in process memory only. Appends for one client id are
// serialized by a per-client lock, so concurrent frames for the same client
// never lose a message; ordering between them follows lock acquisition.
package transcript

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/models"
)

// Sink receives a copy of every appended message.
type Sink interface {
	SaveMessage(ctx context.Context, msg models.ChatMessage) error
}

type entry struct {
	mu       sync.Mutex
	messages []models.ChatMessage
}

// Cache maps client ids to their transcripts.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	sink    Sink
	logger  zerolog.Logger
}

// NewCache creates an empty cache. sink may be nil.
func NewCache(logger zerolog.Logger, sink Sink) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		sink:    sink,
		logger:  logger.With().Str("component", "transcript").Logger(),
	}
}

func (c *Cache) entry(clientID string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[clientID]
	if !ok {
		e = &entry{}
		c.entries[clientID] = e
	}
	return e
}

// Append adds msg to the transcript of clientID.
func (c *Cache) Append(ctx context.Context, clientID string, msg models.ChatMessage) {
	e := c.entry(clientID)

	e.mu.Lock()
	e.messages = append(e.messages, msg)
	e.mu.Unlock()

	if c.sink == nil {
		return
	}
	// Mirroring is best-effort
	if err := c.sink.SaveMessage(ctx, msg); err != nil {
		c.logger.Warn().Err(err).Str("client_id", clientID).Str("message_id", msg.ID).Msg("failed to mirror message")
	}
}

// History returns a copy of the transcript for clientID, empty if unknown.
func (c *Cache) History(clientID string) []models.ChatMessage {
	c.mu.Lock()
	e, ok := c.entries[clientID]
	c.mu.Unlock()
	if !ok {
		return []models.ChatMessage{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.ChatMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// Len returns the number of messages cached for clientID.
func (c *Cache) Len(clientID string) int {
	c.mu.Lock()
	e, ok := c.entries[clientID]
	c.mu.Unlock()
	if !ok {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

// Clients returns the known client ids, sorted.
func (c *Cache) Clients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
