package models

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// ChatMessage represents one entry of a client's transcript.
type ChatMessage struct {
	ID        string `json:"id"`
	ClientID  string `json:"clientId"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"` // RFC3339, UTC
	Sender    Sender `json:"sender"`
}

// NewUserMessage creates a user-authored message with a fresh ULID.
func NewUserMessage(clientID, content string) ChatMessage {
	return ChatMessage{
		ID:        "msg-" + ulid.Make().String(),
		ClientID:  clientID,
		Content:   content,
		Timestamp: now(),
		Sender:    SenderUser,
	}
}

// NewAIMessage creates the reply to the given user message.
func NewAIMessage(replyTo ChatMessage, content string) ChatMessage {
	return ChatMessage{
		ID:        "resp-" + replyTo.ID,
		ClientID:  replyTo.ClientID,
		Content:   content,
		Timestamp: now(),
		Sender:    SenderAI,
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
