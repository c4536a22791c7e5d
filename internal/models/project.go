package models

// ProjectRecord is the metadata index stored next to a project's file tree.
type ProjectRecord struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	CreatedAt string   `json:"createdAt"`
	Files     []string `json:"files"` // relative, slash-separated
}

// ProjectFile is a single file to materialize inside a project.
type ProjectFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}
