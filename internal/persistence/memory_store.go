package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/pipehost/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe RunStore backed by a map.
// Runs are copied on the way in and out.
type InMemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*api.PipelineRun
	order []string
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		runs: make(map[string]*api.PipelineRun),
	}
}

// Ensure InMemoryStore implements RunStore.
var _ RunStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; ok {
		return ErrRunExists
	}
	s.runs[run.RunID] = run.Clone()
	s.order = append(s.order, run.RunID)
	return nil
}

func (s *InMemoryStore) UpdateRun(ctx context.Context, run *api.PipelineRun) error {
	if run == nil {
		return errNilRun
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.RunID]; !ok {
		return api.ErrRunNotFound
	}
	s.runs[run.RunID] = run.Clone()
	return nil
}

func (s *InMemoryStore) GetRun(ctx context.Context, runID string) (*api.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, api.ErrRunNotFound
	}
	return run.Clone(), nil
}

func (s *InMemoryStore) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.PipelineRun
	for _, id := range s.order {
		run := s.runs[id]
		if filter.PipelineName != "" && run.PipelineName != filter.PipelineName {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, run.Clone())
	}
	return result, nil
}

// InMemoryEventStore keeps events per run in append order.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]*api.EngineEvent
}

// NewInMemoryEventStore creates a new InMemoryEventStore.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{events: make(map[string][]*api.EngineEvent)}
}

var _ EventStore = (*InMemoryEventStore)(nil)

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev *api.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ev
	s.events[ev.RunID] = append(s.events[ev.RunID], &cp)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[runID]
	out := make([]*api.EngineEvent, 0, len(stored))
	for _, ev := range stored {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}
