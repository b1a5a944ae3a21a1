package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/pipehost/internal/instance"
	"github.com/petrijr/pipehost/internal/persistence"
	"github.com/petrijr/pipehost/internal/repository"
	"github.com/petrijr/pipehost/pkg/api"
)

const testRepoName = "engine-test"

// collector is an EventSink that records every event it receives.
type collector struct {
	mu     sync.Mutex
	events []*api.EngineEvent
}

func (c *collector) emit(ev *api.EngineEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) types() []api.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.EventType, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Type)
	}
	return out
}

func (c *collector) ofType(typ api.EventType) []*api.EngineEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*api.EngineEvent
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// fixture wires an engine to a single-pipeline repository and an in-memory
// instance.
type fixture struct {
	engine api.Engine
	inst   *instance.Instance
	run    *api.PipelineRun
	recon  api.ReconstructablePipeline
}

func newFixture(t *testing.T, cfg Config, p *api.PipelineDefinition, runConfig map[string]any) *fixture {
	t.Helper()

	reg := repository.NewRegistry(&api.RepositoryDefinition{
		Name:      testRepoName,
		Pipelines: []*api.PipelineDefinition{p},
	})
	cfg.Resolver = reg

	inst := instance.New(persistence.NewInMemory())
	run, err := inst.CreateRun(context.Background(), &api.PipelineRun{
		PipelineName: p.Name,
		RunConfig:    runConfig,
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	return &fixture{
		engine: NewEngineWithConfig(cfg),
		inst:   inst,
		run:    run,
		recon: api.ReconstructablePipeline{
			Repository:   api.RepositoryOrigin{RepositoryName: testRepoName},
			PipelineName: p.Name,
		},
	}
}

func (f *fixture) status(t *testing.T) api.RunStatus {
	t.Helper()
	run, err := f.inst.GetRunByID(context.Background(), f.run.RunID)
	if err != nil {
		t.Fatalf("GetRunByID failed: %v", err)
	}
	return run.Status
}

func constant(v any) api.SolidFunc {
	return func(ctx context.Context, in api.SolidInput) (any, error) { return v, nil }
}

// blockUntilCanceled waits for ctx and returns its error.
func blockUntilCanceled(started chan<- struct{}) api.SolidFunc {
	return func(ctx context.Context, in api.SolidInput) (any, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	}
}
