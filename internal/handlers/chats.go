package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/store"
)

// ChatMessagesResponse represents a page of the fallback channel.
type ChatMessagesResponse struct {
	Success  bool             `json:"success"`
	ClientID string           `json:"clientId"`
	Messages []store.Document `json:"messages"`
}

// ListChatMessages returns the most recent documents stored for a client.
func (h *Handler) ListChatMessages(w http.ResponseWriter, r *http.Request) {
	clientID := sanitizeID(chi.URLParam(r, "clientId"))
	if clientID == "" {
		h.Error(w, http.StatusBadRequest, "clientId is required")
		return
	}

	q := store.Query{Path: store.ChatPath(clientID), OrderBy: r.URL.Query().Get("orderBy")}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			h.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit = l
	}

	docs, err := h.docs.Subscribe(r.Context(), q)
	if errors.Is(err, store.ErrUnsupportedOrder) {
		h.Error(w, http.StatusBadRequest, "only orderBy=timestamp is supported")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to read chat messages")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to read messages", err)
		return
	}

	h.JSON(w, http.StatusOK, ChatMessagesResponse{Success: true, ClientID: clientID, Messages: docs})
}

// AppendChatRequest is a message written while the socket is unavailable.
type AppendChatRequest struct {
	Content string        `json:"content"`
	Sender  models.Sender `json:"sender"`
}

// AppendChatMessage stores one message in the fallback channel.
func (h *Handler) AppendChatMessage(w http.ResponseWriter, r *http.Request) {
	clientID := sanitizeID(chi.URLParam(r, "clientId"))
	if clientID == "" {
		h.Error(w, http.StatusBadRequest, "clientId is required")
		return
	}

	var req AppendChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	msg := models.NewUserMessage(clientID, req.Content)
	switch req.Sender {
	case "", models.SenderUser:
	case models.SenderAI:
		msg.Sender = models.SenderAI
	default:
		h.Error(w, http.StatusBadRequest, "sender must be user or ai")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to encode message", err)
		return
	}

	doc, err := h.docs.Append(r.Context(), store.ChatPath(clientID), store.Document{Data: data})
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", clientID).Msg("failed to append chat message")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to store message", err)
		return
	}

	h.JSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"document": doc,
	})
}
