package relay

import (
	"encoding/json"

	"github.com/eldtechnologies/rzx/internal/models"
)

// Frame types.
const (
	TypeIdentify     = "identify"
	TypeMessage      = "message"
	TypeProjectEvent = "project_event"
	TypeHistory      = "history"
	TypeError        = "error"
)

// inbound is the union of every frame a client may send.
type inbound struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	// UserID is accepted as an alias of ClientID
	UserID    string         `json:"userId"`
	Content   *string        `json:"content"`
	EventType string         `json:"eventType"`
	ProjectID string         `json:"projectId"`
	Metadata  map[string]any `json:"metadata"`
}

// HistoryFrame carries the cached transcript after identify.
type HistoryFrame struct {
	Type     string               `json:"type"`
	Messages []models.ChatMessage `json:"messages"`
}

// MessageFrame carries one ai reply.
type MessageFrame struct {
	Type    string             `json:"type"`
	Message models.ChatMessage `json:"message"`
}

// ErrorPayload describes a failure reported to the client.
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ErrorFrame reports a failure without closing the connection.
type ErrorFrame struct {
	Type  string       `json:"type"`
	Error ErrorPayload `json:"error"`
}

func decode(data []byte) (inbound, error) {
	var in inbound
	err := json.Unmarshal(data, &in)
	return in, err
}
