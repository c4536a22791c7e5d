package store

import (
	"context"
	"encoding/json"

	"github.com/eldtechnologies/rzx/internal/models"
)

// ChatPath returns the document path holding a client's chat messages.
func ChatPath(clientID string) string {
	return "chats/" + clientID
}

// MessageSink mirrors transcript appends into a DocumentStore.
type MessageSink struct {
	store DocumentStore
}

// NewMessageSink creates a sink writing to s.
func NewMessageSink(s DocumentStore) *MessageSink {
	return &MessageSink{store: s}
}

// SaveMessage appends msg under the client's chat path.
func (m *MessageSink) SaveMessage(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = m.store.Append(ctx, ChatPath(msg.ClientID), Document{Data: data})
	return err
}
