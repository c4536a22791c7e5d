package handlers

import (
	"net/http"
	"strings"

	"github.com/eldtechnologies/rzx/internal/llm"
)

// MessageRequest represents a single-shot message.
type MessageRequest struct {
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"` // accepted alias of clientId
	Message  string `json:"message"`
}

// MessageResponse represents the answer to a single-shot message. Error and
// Details are set when a command reported a failure.
type MessageResponse struct {
	Success     bool   `json:"success"`
	Response    string `json:"response"`
	CommandType string `json:"commandType"`
	ProjectID   string `json:"projectId,omitempty"`
	Error       string `json:"error,omitempty"`
	Details     string `json:"details,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// PostMessage dispatches a message without a WebSocket session. Unknown
// slash commands are answered instead of being sent to the LLM.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	clientID := sanitizeID(req.ClientID)
	if clientID == "" {
		clientID = sanitizeID(req.UserID)
	}
	if clientID == "" || strings.TrimSpace(req.Message) == "" {
		h.JSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "incomplete parameters",
			Details: "clientId and message are required",
		})
		return
	}

	preview := req.Message
	if len(preview) > 50 {
		preview = preview[:50]
	}
	h.logger.Info().Str("client_id", clientID).Str("message", preview).Msg("processing message")

	reply, err := h.dispatcher.Dispatch(r.Context(), req.Message)
	if err != nil {
		h.logger.Error().Err(err).Str("client_id", clientID).Bool("provider", llm.IsProviderError(err)).Msg("failed to process message")
		h.ErrorDetails(w, http.StatusInternalServerError, "error processing message", err)
		return
	}

	resp := MessageResponse{
		Success:     true,
		Response:    reply.Content,
		CommandType: reply.CommandType,
		Timestamp:   now(),
	}
	if res := reply.Result; res != nil {
		resp.ProjectID = res.ProjectID
		if !res.Success {
			resp.Success = false
			resp.Error = "command failed"
			resp.Details = res.Error
			h.JSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
	}
	h.JSON(w, http.StatusOK, resp)
}
