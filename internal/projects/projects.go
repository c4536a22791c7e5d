// Package projects materializes generated files as project directories and
// copies them into previews.
//
// The directory tree is the source of truth. The .metadata.json sidecar is a
// cache: List validates it against the tree and rewrites it when it is
// missing, unreadable or stale.
package projects

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/ids"
	"github.com/eldtechnologies/rzx/internal/metrics"
	"github.com/eldtechnologies/rzx/internal/models"
)

// MetadataFile is the name of the sidecar written into every project.
const MetadataFile = ".metadata.json"

// EntryPoint is the file a project needs to be previewed.
const EntryPoint = "index.html"

var (
	ErrInvalidName       = errors.New("project name is required")
	ErrInvalidPath       = errors.New("invalid path")
	ErrNotFound          = errors.New("project not found")
	ErrMissingEntryPoint = errors.New("project has no index.html entry point")
	ErrEmptyContent      = errors.New("content is required")
)

var slugRegex = regexp.MustCompile(`[^a-z0-9]`)

// Created is returned by Create.
type Created struct {
	ID   string `json:"projectId"`
	Path string `json:"projectPath"`
}

// Preview describes a copy of a project served as static files.
type Preview struct {
	ID   string `json:"previewId"`
	URL  string `json:"previewUrl"`
	Path string `json:"previewPath"`
}

// Materializer owns the projects and previews directories.
type Materializer struct {
	projectsDir string
	previewsDir string
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a Materializer rooted at the given directories.
func New(projectsDir, previewsDir string, logger zerolog.Logger) *Materializer {
	return &Materializer{
		projectsDir: projectsDir,
		previewsDir: previewsDir,
		logger:      logger.With().Str("component", "projects").Logger(),
		now:         time.Now,
	}
}

// ProjectsDir returns the root directory of all projects.
func (m *Materializer) ProjectsDir() string { return m.projectsDir }

// PreviewsDir returns the root directory of all previews.
func (m *Materializer) PreviewsDir() string { return m.previewsDir }

// Slugify lowercases name and replaces every non [a-z0-9] byte with '-'.
func Slugify(name string) string {
	return slugRegex.ReplaceAllString(strings.ToLower(name), "-")
}

// projectPath resolves id to a directory directly below the projects root.
func (m *Materializer) projectPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, id)
	}
	return filepath.Join(m.projectsDir, id), nil
}

// cleanRelative validates a project-relative file path.
func cleanRelative(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	if filepath.ToSlash(clean) == MetadataFile {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidPath, p)
	}
	// List skips hidden entries, so they could never be listed back
	for _, seg := range strings.Split(filepath.ToSlash(clean), "/") {
		if strings.HasPrefix(seg, ".") {
			return "", fmt.Errorf("%w: %q is hidden", ErrInvalidPath, p)
		}
	}
	return clean, nil
}

// Create writes files into a new project directory, metadata last. The
// directory only appears under its final name once it is complete.
func (m *Materializer) Create(name, typ string, files []models.ProjectFile) (Created, error) {
	if strings.TrimSpace(name) == "" {
		return Created{}, ErrInvalidName
	}

	// Validate every path before touching the disk
	rel := make([]string, len(files))
	for i, f := range files {
		clean, err := cleanRelative(f.Path)
		if err != nil {
			return Created{}, err
		}
		rel[i] = clean
	}

	now := m.now()
	id := fmt.Sprintf("%s-%d", Slugify(name), now.UnixMilli())
	dir := filepath.Join(m.projectsDir, id)
	if _, err := os.Stat(dir); err == nil {
		return Created{}, fmt.Errorf("project %s already exists", id)
	}

	// Build under a hidden name so List never sees a half-written project
	if err := os.MkdirAll(m.projectsDir, 0o755); err != nil {
		return Created{}, fmt.Errorf("create projects directory: %w", err)
	}
	staging, err := os.MkdirTemp(m.projectsDir, "."+id+"-")
	if err != nil {
		return Created{}, fmt.Errorf("create project directory: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	for i, f := range files {
		target := filepath.Join(staging, rel[i])
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return Created{}, fmt.Errorf("create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return Created{}, fmt.Errorf("write %s: %w", f.Path, err)
		}
	}

	paths := make([]string, len(rel))
	for i, r := range rel {
		paths[i] = filepath.ToSlash(r)
	}
	record := models.ProjectRecord{
		ID:        id,
		Name:      name,
		Type:      typ,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
		Files:     paths,
	}
	if err := writeMetadata(staging, record); err != nil {
		return Created{}, err
	}
	if err := os.Chmod(staging, 0o755); err != nil {
		return Created{}, fmt.Errorf("create project directory: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		return Created{}, fmt.Errorf("publish project: %w", err)
	}
	committed = true

	metrics.ProjectsCreated.Inc()
	m.logger.Info().Str("project_id", id).Int("files", len(files)).Msg("project created")

	return Created{ID: id, Path: dir}, nil
}

func writeMetadata(dir string, record models.ProjectRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	// Readers see either the old sidecar or the new one, never a partial file
	tmp, err := os.CreateTemp(dir, MetadataFile+".*")
	if err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, MetadataFile)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Exists reports whether a project directory exists for id.
func (m *Materializer) Exists(id string) bool {
	dir, err := m.projectPath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Get returns the validated record of a single project.
func (m *Materializer) Get(id string) (models.ProjectRecord, error) {
	dir, err := m.projectPath(id)
	if err != nil {
		return models.ProjectRecord{}, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return models.ProjectRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.load(id, dir, info)
}

// List returns every project, sorted by id. A missing root yields no projects.
func (m *Materializer) List() ([]models.ProjectRecord, error) {
	entries, err := os.ReadDir(m.projectsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []models.ProjectRecord{}, nil
		}
		return nil, fmt.Errorf("read projects directory: %w", err)
	}

	records := make([]models.ProjectRecord, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		record, err := m.load(e.Name(), filepath.Join(m.projectsDir, e.Name()), info)
		if err != nil {
			m.logger.Warn().Err(err).Str("project_id", e.Name()).Msg("skipping unreadable project")
			continue
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// load reads the metadata of one project and reconciles it with the tree.
func (m *Materializer) load(id, dir string, info fs.FileInfo) (models.ProjectRecord, error) {
	files, err := listFiles(dir)
	if err != nil {
		return models.ProjectRecord{}, err
	}

	var record models.ProjectRecord
	cached := false
	if data, err := os.ReadFile(filepath.Join(dir, MetadataFile)); err == nil {
		cached = json.Unmarshal(data, &record) == nil && record.ID == id
	}

	if cached && equalFiles(record.Files, files) {
		return record, nil
	}

	if !cached {
		record = models.ProjectRecord{
			ID:        id,
			Name:      titleOf(dir, id),
			Type:      "unknown",
			CreatedAt: info.ModTime().UTC().Format(time.RFC3339Nano),
		}
		if contains(files, EntryPoint) {
			record.Type = "web"
		}
	}
	record.Files = files

	if err := writeMetadata(dir, record); err != nil {
		m.logger.Warn().Err(err).Str("project_id", id).Msg("failed to rebuild metadata")
	} else {
		m.logger.Debug().Str("project_id", id).Msg("metadata rebuilt")
	}
	return record, nil
}

// listFiles returns every non-hidden file below dir, slash-separated and sorted.
func listFiles(dir string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// titleOf recovers a project name from the <title> of its entry point.
func titleOf(dir, fallback string) string {
	f, err := os.Open(filepath.Join(dir, EntryPoint))
	if err != nil {
		return fallback
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return fallback
	}
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	return fallback
}

func equalFiles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sorted := append([]string(nil), a...)
	sort.Strings(sorted)
	for i := range sorted {
		if sorted[i] != b[i] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Delete removes a project. Deleting an absent project returns ErrNotFound.
func (m *Materializer) Delete(id string) error {
	dir, err := m.projectPath(id)
	if err != nil {
		return err
	}
	if !m.Exists(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove project: %w", err)
	}

	metrics.ProjectsDeleted.Inc()
	m.logger.Info().Str("project_id", id).Msg("project deleted")
	return nil
}

// CreatePreview copies the whole project tree into a new preview directory.
// Previews are never garbage-collected here.
func (m *Materializer) CreatePreview(id string) (Preview, error) {
	dir, err := m.projectPath(id)
	if err != nil {
		return Preview{}, err
	}
	if !m.Exists(id) {
		return Preview{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if info, err := os.Stat(filepath.Join(dir, EntryPoint)); err != nil || info.IsDir() {
		return Preview{}, ErrMissingEntryPoint
	}

	previewID := ids.PreviewID(m.now())
	target := filepath.Join(m.previewsDir, previewID)
	if err := copyDir(dir, target); err != nil {
		return Preview{}, fmt.Errorf("copy project: %w", err)
	}

	metrics.PreviewsCreated.WithLabelValues("project").Inc()
	m.logger.Info().Str("preview_id", previewID).Str("project_id", id).Msg("preview created")

	return Preview{ID: previewID, URL: "/previews/" + previewID + "/", Path: target}, nil
}

// CreateRawPreview writes content as a single preview file.
func (m *Materializer) CreateRawPreview(content, typ, filename string) (Preview, error) {
	if content == "" {
		return Preview{}, ErrEmptyContent
	}
	if filename == "" {
		ext := "txt"
		if typ == "" || typ == "html" {
			ext = "html"
		}
		filename = fmt.Sprintf("preview_%d.%s", m.now().UnixMilli(), ext)
	}
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return Preview{}, fmt.Errorf("%w: %q", ErrInvalidPath, filename)
	}

	if err := os.MkdirAll(m.previewsDir, 0o755); err != nil {
		return Preview{}, err
	}
	target := filepath.Join(m.previewsDir, filename)
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return Preview{}, fmt.Errorf("write preview: %w", err)
	}

	metrics.PreviewsCreated.WithLabelValues("raw").Inc()
	return Preview{ID: filename, URL: "/previews/" + filename, Path: target}, nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
