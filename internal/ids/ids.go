// Package ids generates the identifiers handed out by the relay.
package ids

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// AnonymousClientID returns the client id used when identify carries none.
func AnonymousClientID() string {
	return "anon-" + NewUUIDv7().String()
}

// PreviewID returns a unique preview directory name.
func PreviewID(now time.Time) string {
	return fmt.Sprintf("preview-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
