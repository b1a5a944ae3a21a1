package persistence

import (
	"context"

	"github.com/petrijr/pipehost/pkg/api"
)

// EventStore is an append-only history of engine events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev *api.EngineEvent) error
	// ListEvents returns a run's events in append order.
	ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev *api.EngineEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	return nil, nil
}
