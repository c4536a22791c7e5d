package handlers

import (
	"net/http"

	"github.com/eldtechnologies/rzx/internal/models"
)

// ProjectEventRequest announces a change to a project.
type ProjectEventRequest struct {
	ProjectID string         `json:"projectId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
}

// NotifyProjectEvent records the latest project event.
func (h *Handler) NotifyProjectEvent(w http.ResponseWriter, r *http.Request) {
	var req ProjectEventRequest
	if !h.decode(w, r, &req) {
		return
	}

	projectID := sanitizeID(req.ProjectID)
	action := sanitizeID(req.Action)
	if projectID == "" || action == "" {
		h.JSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "incomplete parameters",
			Details: "projectId and action are required",
		})
		return
	}

	ev := h.events.Record(models.ProjectEvent{ProjectID: projectID, Action: action, Details: req.Details})
	h.logger.Info().Str("project_id", projectID).Str("action", action).Msg("project event recorded")

	h.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Project event (" + action + ") recorded",
		"timestamp": ev.Timestamp,
	})
}

// LatestEventResponse carries the most recent project event, or null.
type LatestEventResponse struct {
	Success bool                 `json:"success"`
	Event   *models.ProjectEvent `json:"event"`
}

// LatestProjectEvent returns the most recent project event.
func (h *Handler) LatestProjectEvent(w http.ResponseWriter, r *http.Request) {
	resp := LatestEventResponse{Success: true}
	if ev, ok := h.events.Latest(); ok {
		resp.Event = &ev
	}
	h.JSON(w, http.StatusOK, resp)
}
