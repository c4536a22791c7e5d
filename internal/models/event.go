package models

// Project event actions.
const (
	ProjectCreated  = "created"
	ProjectModified = "modified"
	ProjectDeleted  = "deleted"
)

// ProjectEvent describes the most recent change to a project.
type ProjectEvent struct {
	ProjectID string         `json:"projectId"`
	Action    string         `json:"action"`
	Timestamp string         `json:"timestamp"`
	Details   map[string]any `json:"details"`
}
