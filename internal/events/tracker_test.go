package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/rzx/internal/models"
)

func TestTrackerKeepsOnlyLatest(t *testing.T) {
	tr := NewTracker()
	tr.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	_, ok := tr.Latest()
	assert.False(t, ok)

	tr.Record(models.ProjectEvent{ProjectID: "a", Action: models.ProjectCreated})
	recorded := tr.Record(models.ProjectEvent{ProjectID: "b", Action: models.ProjectDeleted})
	assert.Equal(t, "2025-03-01T12:00:00Z", recorded.Timestamp)
	assert.NotNil(t, recorded.Details)

	latest, ok := tr.Latest()
	require.True(t, ok)
	assert.Equal(t, "b", latest.ProjectID)
	assert.Equal(t, models.ProjectDeleted, latest.Action)
}
