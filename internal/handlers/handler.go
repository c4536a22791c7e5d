package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/commands"
	"github.com/eldtechnologies/rzx/internal/events"
	"github.com/eldtechnologies/rzx/internal/llm"
	"github.com/eldtechnologies/rzx/internal/projects"
	"github.com/eldtechnologies/rzx/internal/store"
)

// Dispatcher answers single-shot messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, content string) (commands.Reply, error)
}

// Completer is the LLM surface used by the HTTP handlers.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
	Configured() bool
	Model() string
}

// ConnectionCounter reports the number of open relay connections.
type ConnectionCounter interface {
	Connections() int
}

// Deps are the collaborators of the HTTP handlers. Redis and Relay may be nil.
type Deps struct {
	Projects   *projects.Materializer
	Dispatcher Dispatcher
	LLM        Completer
	Events     *events.Tracker
	Documents  store.DocumentStore
	Redis      *redis.Client
	Relay      ConnectionCounter
	Logger     zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	projects   *projects.Materializer
	dispatcher Dispatcher
	llm        Completer
	events     *events.Tracker
	docs       store.DocumentStore
	redis      *redis.Client
	relay      ConnectionCounter
	logger     zerolog.Logger
	startedAt  time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		projects:   d.Projects,
		dispatcher: d.Dispatcher,
		llm:        d.LLM,
		events:     d.Events,
		docs:       d.Documents,
		redis:      d.Redis,
		relay:      d.Relay,
		logger:     d.Logger,
		startedAt:  time.Now(),
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, ErrorResponse{Error: message})
}

// ErrorDetails sends a JSON error response carrying the underlying cause.
func (h *Handler) ErrorDetails(w http.ResponseWriter, status int, message string, err error) {
	h.JSON(w, status, ErrorResponse{Error: message, Details: err.Error()})
}

// decode reads a JSON body into v, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sanitizeID trims and limits an identifier to 128 characters, removing control characters.
func sanitizeID(id string) string {
	id = strings.TrimSpace(id)

	// Remove control characters
	id = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, id)

	if len(id) > 128 {
		id = id[:128]
	}

	return id
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
