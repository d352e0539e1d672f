package lolo

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUTC returns the current time in UTC, truncated to seconds. All
// persisted timestamps go through this so rows compare cleanly.
func NowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
