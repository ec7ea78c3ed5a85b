package storage

import (
	"context"
	"time"
)

// NoopStateStore is a state store that keeps nothing.
// Used in dry-run mode so a rehearsal does not move the recorded last run.
type NoopStateStore struct {
	last time.Time
}

// NewNoopStateStore creates a new NoopStateStore reporting the given last run time.
func NewNoopStateStore(last time.Time) *NoopStateStore {
	return &NoopStateStore{last: last}
}

// LastRunTime returns the configured time.
func (s *NoopStateStore) LastRunTime(_ context.Context) (time.Time, error) {
	return s.last, nil
}

// SetLastRunTime does nothing.
func (s *NoopStateStore) SetLastRunTime(_ context.Context, _ time.Time) error {
	return nil
}
