package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/rzx/internal/models"
	"github.com/eldtechnologies/rzx/internal/projects"
)

// ProjectsResponse represents the project listing response.
type ProjectsResponse struct {
	Success  bool                   `json:"success"`
	Projects []models.ProjectRecord `json:"projects"`
}

// ListProjects returns every project on disk.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	records, err := h.projects.List()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list projects")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to list projects", err)
		return
	}
	h.JSON(w, http.StatusOK, ProjectsResponse{Success: true, Projects: records})
}

// DeleteProject removes a project directory.
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.projects.Delete(id)
	switch {
	case errors.Is(err, projects.ErrInvalidPath):
		h.Error(w, http.StatusBadRequest, "invalid project id")
		return
	case errors.Is(err, projects.ErrNotFound):
		h.Error(w, http.StatusNotFound, "project not found")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("project_id", id).Msg("failed to delete project")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to delete project", err)
		return
	}

	if h.events != nil {
		h.events.Record(models.ProjectEvent{ProjectID: id, Action: models.ProjectDeleted})
	}

	h.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Project " + id + " deleted",
	})
}

// PreviewResponse represents a created preview.
type PreviewResponse struct {
	Success     bool   `json:"success"`
	PreviewID   string `json:"previewId"`
	PreviewURL  string `json:"previewUrl"`
	PreviewPath string `json:"previewPath"`
}

// CreateProjectPreview copies a project into a new preview directory.
func (h *Handler) CreateProjectPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	preview, err := h.projects.CreatePreview(id)
	switch {
	case errors.Is(err, projects.ErrInvalidPath):
		h.Error(w, http.StatusBadRequest, "invalid project id")
		return
	case errors.Is(err, projects.ErrNotFound):
		h.Error(w, http.StatusNotFound, "project not found")
		return
	case errors.Is(err, projects.ErrMissingEntryPoint):
		h.Error(w, http.StatusUnprocessableEntity, "project has no index.html file")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("project_id", id).Msg("failed to create preview")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to create preview", err)
		return
	}

	h.JSON(w, http.StatusCreated, PreviewResponse{
		Success:     true,
		PreviewID:   preview.ID,
		PreviewURL:  preview.URL,
		PreviewPath: preview.Path,
	})
}

// RawPreviewRequest represents a single-file preview request.
type RawPreviewRequest struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// CreatePreview writes raw content as a preview file.
func (h *Handler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	var req RawPreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	preview, err := h.projects.CreateRawPreview(req.Content, req.Type, req.Filename)
	switch {
	case errors.Is(err, projects.ErrEmptyContent):
		h.Error(w, http.StatusBadRequest, "content is required")
		return
	case errors.Is(err, projects.ErrInvalidPath):
		h.Error(w, http.StatusBadRequest, "invalid filename")
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("failed to create raw preview")
		h.ErrorDetails(w, http.StatusInternalServerError, "failed to create preview", err)
		return
	}

	h.JSON(w, http.StatusCreated, PreviewResponse{
		Success:     true,
		PreviewID:   preview.ID,
		PreviewURL:  preview.URL,
		PreviewPath: preview.Path,
	})
}
