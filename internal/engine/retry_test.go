package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pipehost/pkg/api"
)

func TestEngine_RetryThenSucceed(t *testing.T) {
	attempts := 0
	p := &api.PipelineDefinition{
		Name: "flaky",
		Solids: []api.SolidDefinition{{
			Name:  "fetch",
			Retry: &api.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond},
			Fn: func(ctx context.Context, in api.SolidInput) (any, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			},
		}},
	}
	metrics := &api.BasicMetrics{}
	f := newFixture(t, Config{Observer: metrics}, p, nil)
	c := &collector{}

	require.NoError(t, f.engine.ExecuteRunIterator(context.Background(), f.recon, f.run, f.inst, c.emit))

	assert.Equal(t, 3, attempts)
	retries := c.ofType(api.EventStepRetry)
	require.Len(t, retries, 2)
	assert.Equal(t, "1", retries[0].Data.Metadata["attempt"])
	assert.Equal(t, "transient", retries[0].Data.Error.Cause.Message)
	assert.Len(t, c.ofType(api.EventStepSuccess), 1)
	assert.Equal(t, api.RunStatusSuccess, f.status(t))

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.StepsCompleted)
	assert.Equal(t, int64(2), snap.StepsFailed)
}

func TestEngine_RetryExhausted(t *testing.T) {
	p := &api.PipelineDefinition{
		Name: "flaky",
		Solids: []api.SolidDefinition{{
			Name:  "fetch",
			Retry: &api.RetryPolicy{MaxAttempts: 2},
			Fn: func(ctx context.Context, in api.SolidInput) (any, error) {
				return nil, errors.New("always")
			},
		}},
	}
	f := newFixture(t, Config{}, p, nil)
	c := &collector{}

	require.NoError(t, f.engine.ExecuteRunIterator(context.Background(), f.recon, f.run, f.inst, c.emit))

	assert.Len(t, c.ofType(api.EventStepRetry), 1)
	assert.Len(t, c.ofType(api.EventStepFailure), 1)
	assert.Equal(t, api.RunStatusFailure, f.status(t))
}

func TestEngine_BackoffHonorsCancellation(t *testing.T) {
	p := &api.PipelineDefinition{
		Name: "flaky",
		Solids: []api.SolidDefinition{{
			Name:  "fetch",
			Retry: &api.RetryPolicy{MaxAttempts: 5, Backoff: time.Hour},
			Fn: func(ctx context.Context, in api.SolidInput) (any, error) {
				return nil, errors.New("transient")
			},
		}},
	}
	f := newFixture(t, Config{}, p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := f.engine.ExecuteRunIterator(ctx, f.recon, f.run, f.inst, (&collector{}).emit)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestEngine_SolidOwnDeadlineIsRetriedStepFailure(t *testing.T) {
	attempts := 0
	p := &api.PipelineDefinition{
		Name: "fetcher",
		Solids: []api.SolidDefinition{{
			Name:  "call",
			Retry: &api.RetryPolicy{MaxAttempts: 2},
			Fn: func(ctx context.Context, in api.SolidInput) (any, error) {
				attempts++
				callCtx, cancel := context.WithTimeout(ctx, time.Millisecond)
				defer cancel()
				<-callCtx.Done()
				return nil, fmt.Errorf("call upstream: %w", callCtx.Err())
			},
		}},
	}
	f := newFixture(t, Config{}, p, nil)
	c := &collector{}

	require.NoError(t, f.engine.ExecuteRunIterator(context.Background(), f.recon, f.run, f.inst, c.emit))

	assert.Equal(t, 2, attempts)
	assert.Len(t, c.ofType(api.EventStepRetry), 1)
	failures := c.ofType(api.EventStepFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "SolidExecutionError", failures[0].Data.Error.ClsName)
	assert.Contains(t, failures[0].Data.Error.Cause.Message, "deadline exceeded")
	assert.Len(t, c.ofType(api.EventPipelineFailure), 1)
	assert.Equal(t, api.RunStatusFailure, f.status(t))
}

func TestEngine_SolidOwnCancellationIsNotAnInterrupt(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeParallel} {
		t.Run(string(mode), func(t *testing.T) {
			p := &api.PipelineDefinition{
				Name: "fanout",
				Solids: []api.SolidDefinition{
					{Name: "ok", Fn: constant(1)},
					{Name: "group", Fn: func(ctx context.Context, in api.SolidInput) (any, error) {
						return nil, context.Canceled
					}},
				},
			}
			f := newFixture(t, Config{Mode: mode}, p, nil)
			c := &collector{}

			err := f.engine.ExecuteRunIterator(context.Background(), f.recon, f.run, f.inst, c.emit)
			require.NoError(t, err)
			assert.False(t, api.IsInterrupt(err))
			assert.Len(t, c.ofType(api.EventStepFailure), 1)
			assert.Equal(t, api.RunStatusFailure, f.status(t))
		})
	}
}
