package workflow

import "github.com/google/uuid"

// newPersistenceID returns a time-ordered UUIDv7 string. Persistence ids
// sort by creation time, which keeps listing queries cheap.
func newPersistenceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than propagate an error nobody can act on.
		return uuid.New().String()
	}
	return id.String()
}

// newRunID returns a fresh run identifier.
func newRunID() uuid.UUID {
	return uuid.New()
}
