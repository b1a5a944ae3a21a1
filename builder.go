package pipehost

import (
	"fmt"

	"github.com/petrijr/pipehost/pkg/api"
)

// PipelineBuilder provides a fluent API for defining pipelines:
//
//	etl := pipehost.NewPipeline("etl").
//	    Solid("extract", extract).
//	    Solid("transform", transform, "extract").
//	    SolidWithRetry("load", load, pipehost.Retry(3).Policy(), "transform")
//
//	repo := pipehost.NewRepository("analytics").Pipeline(etl).Build()
type PipelineBuilder struct {
	def api.PipelineDefinition
}

// NewPipeline creates a new pipeline builder with the given name.
func NewPipeline(name string) *PipelineBuilder {
	return &PipelineBuilder{def: api.PipelineDefinition{Name: name}}
}

// Name returns the pipeline name.
func (b *PipelineBuilder) Name() string {
	return b.def.Name
}

// Describe sets the pipeline description.
func (b *PipelineBuilder) Describe(description string) *PipelineBuilder {
	b.def.Description = description
	return b
}

// Solid appends a solid that runs after the solids named in dependsOn.
func (b *PipelineBuilder) Solid(name string, fn SolidFunc, dependsOn ...string) *PipelineBuilder {
	return b.add(name, fn, nil, dependsOn)
}

// SolidWithRetry appends a solid that uses the given retry policy.
func (b *PipelineBuilder) SolidWithRetry(name string, fn SolidFunc, retry RetryPolicy, dependsOn ...string) *PipelineBuilder {
	// Copy so callers can mutate their policy afterwards.
	r := retry
	return b.add(name, fn, &r, dependsOn)
}

func (b *PipelineBuilder) add(name string, fn SolidFunc, retry *RetryPolicy, dependsOn []string) *PipelineBuilder {
	if name == "" {
		panic("pipehost: solid name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("pipehost: solid %q has nil function", name))
	}
	b.def.Solids = append(b.def.Solids, api.SolidDefinition{
		Name:      name,
		Fn:        fn,
		DependsOn: append([]string(nil), dependsOn...),
		Retry:     retry,
	})
	return b
}

// Definition returns a copy of the built definition.
func (b *PipelineBuilder) Definition() *PipelineDefinition {
	def := b.def
	def.Solids = append([]api.SolidDefinition(nil), b.def.Solids...)
	return &def
}

// RepositoryBuilder collects pipelines, schedules and partition sets.
type RepositoryBuilder struct {
	repo api.RepositoryDefinition
}

// NewRepository creates a repository builder with the given name.
func NewRepository(name string) *RepositoryBuilder {
	return &RepositoryBuilder{repo: api.RepositoryDefinition{Name: name}}
}

// Pipeline adds the pipeline built by b.
func (r *RepositoryBuilder) Pipeline(b *PipelineBuilder) *RepositoryBuilder {
	r.repo.Pipelines = append(r.repo.Pipelines, b.Definition())
	return r
}

// PipelineDefinition adds an already built pipeline.
func (r *RepositoryBuilder) PipelineDefinition(def *PipelineDefinition) *RepositoryBuilder {
	r.repo.Pipelines = append(r.repo.Pipelines, def)
	return r
}

// Schedule adds a schedule.
func (r *RepositoryBuilder) Schedule(s ScheduleDefinition) *RepositoryBuilder {
	r.repo.Schedules = append(r.repo.Schedules, &s)
	return r
}

// PartitionSet adds a partition set.
func (r *RepositoryBuilder) PartitionSet(s PartitionSetDefinition) *RepositoryBuilder {
	r.repo.PartitionSets = append(r.repo.PartitionSets, &s)
	return r
}

// Build validates and returns the repository.
func (r *RepositoryBuilder) Build() (*RepositoryDefinition, error) {
	repo := r.repo
	if err := repo.Validate(); err != nil {
		return nil, err
	}
	return &repo, nil
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (r *RepositoryBuilder) MustBuild() *RepositoryDefinition {
	repo, err := r.Build()
	if err != nil {
		panic(err)
	}
	return repo
}

// Origin returns the origin workers use to find this repository.
func (r *RepositoryBuilder) Origin() RepositoryOrigin {
	return RepositoryOrigin{RepositoryName: r.repo.Name}
}
