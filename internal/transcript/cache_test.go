package transcript

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rzx/internal/models"
)

type recordingSink struct {
	mu   sync.Mutex
	msgs []models.ChatMessage
	err  error
}

func (s *recordingSink) SaveMessage(_ context.Context, msg models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func TestHistoryUnknownClientIsEmpty(t *testing.T) {
	c := NewCache(zerolog.Nop(), nil)

	h := c.History("nobody")
	require.NotNil(t, h)
	assert.Empty(t, h)
	assert.Equal(t, 0, c.Len("nobody"))
}

func TestAppendKeepsInsertionOrder(t *testing.T) {
	c := NewCache(zerolog.Nop(), nil)
	ctx := context.Background()

	first := models.NewUserMessage("alice", "one")
	second := models.NewAIMessage(first, "two")
	c.Append(ctx, "alice", first)
	c.Append(ctx, "alice", second)

	h := c.History("alice")
	require.Len(t, h, 2)
	assert.Equal(t, "one", h[0].Content)
	assert.Equal(t, "two", h[1].Content)
	assert.Equal(t, "resp-"+first.ID, h[1].ID)
	assert.Equal(t, []string{"alice"}, c.Clients())
}

func TestHistoryReturnsCopy(t *testing.T) {
	c := NewCache(zerolog.Nop(), nil)
	c.Append(context.Background(), "bob", models.NewUserMessage("bob", "hi"))

	h := c.History("bob")
	h[0].Content = "changed"

	assert.Equal(t, "hi", c.History("bob")[0].Content)
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	c := NewCache(zerolog.Nop(), nil)
	ctx := context.Background()

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			user := models.NewUserMessage("shared", fmt.Sprintf("q%d", n))
			c.Append(ctx, "shared", user)
			c.Append(ctx, "shared", models.NewAIMessage(user, fmt.Sprintf("a%d", n)))
		}(i)
	}
	wg.Wait()

	h := c.History("shared")
	require.Len(t, h, writers*2)

	seen := make(map[string]bool)
	for _, m := range h {
		seen[m.Content] = true
	}
	for i := 0; i < writers; i++ {
		assert.True(t, seen[fmt.Sprintf("q%d", i)])
		assert.True(t, seen[fmt.Sprintf("a%d", i)])
	}
}

func TestSinkFailureDoesNotDropMessage(t *testing.T) {
	sink := &recordingSink{err: errors.New("store down")}
	c := NewCache(zerolog.Nop(), sink)

	c.Append(context.Background(), "carol", models.NewUserMessage("carol", "hello"))

	assert.Equal(t, 1, c.Len("carol"))
	assert.Len(t, sink.msgs, 1)
}
