package app

import (
	"time"

	"github.com/google/uuid"
)

// Operation identifies one CLI invocation in the log. Every line the
// invocation writes carries its ID.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
}

// NewOperation creates an operation named after the CLI command being run.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8],
		Name:      name,
		StartedAt: now,
	}
}
