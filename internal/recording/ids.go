package recording

import "github.com/google/uuid"

// NewEventID issues a time-ordered identifier for a freshly captured event.
// UUIDv7 values sort by creation time and are monotonic within the process.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Only reachable if the system random source fails.
		return uuid.NewString()
	}
	return id.String()
}
