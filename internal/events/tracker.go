// Package events keeps the most recent project event.
package events

import (
	"sync"
	"time"

	"github.com/eldtechnologies/rzx/internal/models"
)

// Tracker holds the latest project event. Older events are discarded.
type Tracker struct {
	mu     sync.RWMutex
	latest *models.ProjectEvent
	now    func() time.Time
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record timestamps ev, stores it as the latest event and returns it.
func (t *Tracker) Record(ev models.ProjectEvent) models.ProjectEvent {
	ev.Timestamp = t.now().UTC().Format(time.RFC3339Nano)
	if ev.Details == nil {
		ev.Details = map[string]any{}
	}

	t.mu.Lock()
	t.latest = &ev
	t.mu.Unlock()
	return ev
}

// Latest returns the most recent event, if any.
func (t *Tracker) Latest() (models.ProjectEvent, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return models.ProjectEvent{}, false
	}
	return *t.latest, true
}
