package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, in SolidInput) (any, error) { return nil, nil }

// a -> b -> c, a -> d
func diamondPipeline() *PipelineDefinition {
	return &PipelineDefinition{
		Name: "etl",
		Solids: []SolidDefinition{
			{Name: "a", Fn: noop},
			{Name: "b", Fn: noop, DependsOn: []string{"a"}},
			{Name: "c", Fn: noop, DependsOn: []string{"b"}},
			{Name: "d", Fn: noop, DependsOn: []string{"a"}},
		},
	}
}

func solidNames(p *PipelineDefinition) []string {
	var out []string
	for _, s := range p.Solids {
		out = append(out, s.Name)
	}
	return out
}

func TestPipelineDefinition_Validate(t *testing.T) {
	require.NoError(t, diamondPipeline().Validate())

	cyclic := &PipelineDefinition{
		Name: "loop",
		Solids: []SolidDefinition{
			{Name: "x", Fn: noop, DependsOn: []string{"y"}},
			{Name: "y", Fn: noop, DependsOn: []string{"x"}},
		},
	}
	assert.ErrorIs(t, cyclic.Validate(), ErrInvalidPipeline)

	unknownDep := &PipelineDefinition{
		Name:   "bad",
		Solids: []SolidDefinition{{Name: "x", Fn: noop, DependsOn: []string{"nope"}}},
	}
	assert.ErrorIs(t, unknownDep.Validate(), ErrInvalidPipeline)

	dup := &PipelineDefinition{
		Name:   "dup",
		Solids: []SolidDefinition{{Name: "x", Fn: noop}, {Name: "x", Fn: noop}},
	}
	assert.ErrorIs(t, dup.Validate(), ErrInvalidPipeline)
}

func TestPipelineDefinition_ExecutionLevels(t *testing.T) {
	levels, err := diamondPipeline().ExecutionLevels()
	require.NoError(t, err)
	require.Len(t, levels, 3)

	names := func(level []SolidDefinition) []string {
		var out []string
		for _, s := range level {
			out = append(out, s.Name)
		}
		return out
	}
	assert.Equal(t, []string{"a"}, names(levels[0]))
	assert.Equal(t, []string{"b", "d"}, names(levels[1]))
	assert.Equal(t, []string{"c"}, names(levels[2]))
}

func TestSubsetForExecution(t *testing.T) {
	p := diamondPipeline()

	tests := []struct {
		name      string
		selection []string
		want      []string
	}{
		{"empty selection keeps pipeline", nil, []string{"a", "b", "c", "d"}},
		{"single solid", []string{"b"}, []string{"b"}},
		{"all ancestors", []string{"*c"}, []string{"a", "b", "c"}},
		{"direct parent", []string{"+c"}, []string{"b", "c"}},
		{"all descendants", []string{"a*"}, []string{"a", "b", "c", "d"}},
		{"ancestors after plain selection", []string{"b", "*c"}, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := p.SubsetForExecution(tt.selection)
			require.NoError(t, err)
			assert.Equal(t, tt.want, solidNames(sub))
		})
	}
}

func TestSubsetForExecution_DropsDependenciesOutsideSubset(t *testing.T) {
	sub, err := diamondPipeline().SubsetForExecution([]string{"b", "c"})
	require.NoError(t, err)

	b, ok := sub.Solid("b")
	require.True(t, ok)
	assert.Empty(t, b.DependsOn)

	c, ok := sub.Solid("c")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, c.DependsOn)
}

func TestSubsetForExecution_UnknownSolid(t *testing.T) {
	_, err := diamondPipeline().SubsetForExecution([]string{"a", "missing"})

	var subsetErr *InvalidSubsetError
	require.True(t, errors.As(err, &subsetErr))
	assert.Equal(t, "etl", subsetErr.PipelineName)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestPipelineDefinition_Snapshot(t *testing.T) {
	p := diamondPipeline()
	p.Solids[1].Retry = &RetryPolicy{MaxAttempts: 3}

	snap := p.Snapshot()
	assert.Equal(t, "etl", snap.Name)
	require.Len(t, snap.Solids, 4)
	assert.Equal(t, []string{"a"}, snap.Solids[1].DependsOn)
	assert.Equal(t, 2, snap.Solids[1].Retries)
}

func TestDailyPartitions(t *testing.T) {
	start := time.Date(2020, 1, 1, 15, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC)

	set := &PartitionSetDefinition{Name: "daily", PartitionFn: DailyPartitions(start, end)}
	names, err := set.PartitionNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"2020-01-01", "2020-01-02", "2020-01-03"}, names)

	p, err := set.Partition("2020-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), p.Value)

	_, err = set.Partition("2021-01-01")
	assert.ErrorIs(t, err, ErrPartitionNotFound)

	tags, err := set.TagsFor(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{TagPartition: "2020-01-02", TagPartitionSet: "daily"}, tags)
}

func TestRepositoryDefinition_Lookups(t *testing.T) {
	repo := &RepositoryDefinition{
		Name:          "repo",
		Pipelines:     []*PipelineDefinition{diamondPipeline()},
		Schedules:     []*ScheduleDefinition{{Name: "nightly", PipelineName: "etl"}},
		PartitionSets: []*PartitionSetDefinition{{Name: "daily", PipelineName: "etl"}},
	}
	require.NoError(t, repo.Validate())

	_, err := repo.Pipeline("etl")
	require.NoError(t, err)
	_, err = repo.Pipeline("other")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
	_, err = repo.Schedule("hourly")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	_, err = repo.PartitionSet("weekly")
	assert.ErrorIs(t, err, ErrPartitionSetNotFound)

	repo.Schedules = append(repo.Schedules, &ScheduleDefinition{Name: "orphan", PipelineName: "gone"})
	assert.ErrorIs(t, repo.Validate(), ErrPipelineNotFound)
}

func TestScheduleDefinition_Defaults(t *testing.T) {
	s := &ScheduleDefinition{Name: "s"}
	ok, err := s.EvaluateShouldExecute(ScheduleContext{})
	require.NoError(t, err)
	assert.True(t, ok)

	cfg, err := s.RunConfig(ScheduleContext{})
	require.NoError(t, err)
	assert.Empty(t, cfg)

	tags, err := s.Tags(ScheduleContext{})
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestRetryPolicy_Delay(t *testing.T) {
	var none *RetryPolicy
	assert.Equal(t, 1, none.Attempts())
	assert.Zero(t, none.Delay(1))

	p := &RetryPolicy{MaxAttempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 5, p.Attempts())
	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
	assert.Zero(t, p.Delay(0))

	constant := &RetryPolicy{MaxAttempts: 3, Backoff: time.Second, BackoffMultiplier: 1}
	assert.Equal(t, time.Second, constant.Delay(4))
}
