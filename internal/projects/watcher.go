package projects

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/rzx/internal/models"
)

// Watcher reports changes below the projects root as project events.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	onEvent func(models.ProjectEvent)
	logger  zerolog.Logger
}

// NewWatcher watches root and every project directory already inside it.
// The root is created if it does not exist.
func NewWatcher(root string, onEvent func(models.ProjectEvent), logger zerolog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		onEvent: onEvent,
		logger:  logger.With().Str("component", "watcher").Logger(),
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			w.add(filepath.Join(root, e.Name()))
		}
	}
	return w, nil
}

func (w *Watcher) add(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn().Err(err).Str("dir", dir).Msg("failed to watch project")
	}
}

// Run delivers events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	projectID := parts[0]
	if strings.HasPrefix(projectID, ".") {
		return
	}
	topLevel := len(parts) == 1
	if !topLevel && strings.HasPrefix(filepath.Base(ev.Name), MetadataFile) {
		return
	}

	action := ""
	switch {
	case topLevel && ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.add(ev.Name)
			action = models.ProjectCreated
		}
	case topLevel && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)):
		action = models.ProjectDeleted
	case !topLevel && (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)):
		action = models.ProjectModified
	}
	if action == "" {
		return
	}

	details := map[string]any{"source": "watcher"}
	if !topLevel {
		details["file"] = parts[1]
	}
	w.onEvent(models.ProjectEvent{ProjectID: projectID, Action: action, Details: details})
}
