package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrRepositoryNotFound   = errors.New("repository not found")
	ErrPipelineNotFound     = errors.New("pipeline not found")
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrPartitionSetNotFound = errors.New("partition set not found")
	ErrPartitionNotFound    = errors.New("partition not found")
	ErrInvalidPipeline      = errors.New("invalid pipeline definition")
)

// SolidInput is what a solid receives when it executes.
type SolidInput struct {
	RunID string

	// Config is run_config["solids"][<name>]["config"], or nil.
	Config any

	// Inputs holds the outputs of the solids this one depends on, keyed by
	// solid name. Dependencies outside the executed subset are absent.
	Inputs map[string]any
}

// SolidFunc is the operator-supplied body of a solid.
type SolidFunc func(ctx context.Context, in SolidInput) (any, error)

// RetryPolicy controls how a solid is retried when it returns an error.
// MaxAttempts includes the first attempt. For example:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// Backoff is the delay before the first retry. It is multiplied by
// BackoffMultiplier (when > 1) for each following retry and capped at
// MaxBackoff (when > 0). If zero, retries happen immediately.
type RetryPolicy struct {
	MaxAttempts       int
	Backoff           time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// Attempts returns MaxAttempts, at least 1. A nil policy allows one attempt.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retry n, where n == 1 is the first retry.
// A multiplier <= 0 counts as 2.
func (p *RetryPolicy) Delay(n int) time.Duration {
	if p == nil || p.Backoff <= 0 || n < 1 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := p.Backoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// SolidDefinition is one step of a pipeline.
type SolidDefinition struct {
	Name      string
	Fn        SolidFunc
	DependsOn []string
	Retry     *RetryPolicy
}

// PipelineDefinition is a DAG of solids.
type PipelineDefinition struct {
	Name        string
	Description string
	Solids      []SolidDefinition
}

// Solid looks up a solid by name.
func (p *PipelineDefinition) Solid(name string) (*SolidDefinition, bool) {
	for i := range p.Solids {
		if p.Solids[i].Name == name {
			return &p.Solids[i], true
		}
	}
	return nil, false
}

// Validate checks that solid names are unique, that every dependency names a
// solid of the pipeline and that the dependency graph is acyclic.
func (p *PipelineDefinition) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrInvalidPipeline)
	}
	seen := make(map[string]bool, len(p.Solids))
	for _, s := range p.Solids {
		if s.Name == "" {
			return fmt.Errorf("%w: %s: solid name is required", ErrInvalidPipeline, p.Name)
		}
		if s.Fn == nil {
			return fmt.Errorf("%w: %s: solid %q has no function", ErrInvalidPipeline, p.Name, s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: %s: duplicate solid %q", ErrInvalidPipeline, p.Name, s.Name)
		}
		seen[s.Name] = true
	}
	for _, s := range p.Solids {
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("%w: %s: solid %q depends on unknown solid %q", ErrInvalidPipeline, p.Name, s.Name, dep)
			}
		}
	}
	if _, err := p.ExecutionLevels(); err != nil {
		return err
	}
	return nil
}

// ExecutionLevels groups solids into levels: every solid's dependencies are
// in earlier levels. Solids within a level keep definition order.
// Dependencies on solids that are not part of p are ignored.
func (p *PipelineDefinition) ExecutionLevels() ([][]SolidDefinition, error) {
	index := make(map[string]int, len(p.Solids))
	for i, s := range p.Solids {
		index[s.Name] = i
	}
	pending := make([]int, len(p.Solids))
	dependents := make([][]int, len(p.Solids))
	for i, s := range p.Solids {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				continue
			}
			pending[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var levels [][]SolidDefinition
	var ready []int
	for i := range p.Solids {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}
	placed := 0
	for len(ready) > 0 {
		sort.Ints(ready)
		level := make([]SolidDefinition, 0, len(ready))
		var next []int
		for _, i := range ready {
			level = append(level, p.Solids[i])
			placed++
			for _, d := range dependents[i] {
				pending[d]--
				if pending[d] == 0 {
					next = append(next, d)
				}
			}
		}
		levels = append(levels, level)
		ready = next
	}
	if placed != len(p.Solids) {
		return nil, fmt.Errorf("%w: %s: dependency cycle", ErrInvalidPipeline, p.Name)
	}
	return levels, nil
}

// InvalidSubsetError reports a solid selection that does not match the
// pipeline.
type InvalidSubsetError struct {
	PipelineName string
	Unknown      []string
}

func (e *InvalidSubsetError) Error() string {
	return fmt.Sprintf("pipeline %q has no solid(s) named %s", e.PipelineName, strings.Join(e.Unknown, ", "))
}

// SubsetForExecution narrows the pipeline to the selected solids. A
// selection item is a solid name, optionally prefixed with "*" (all
// ancestors) or "+" (direct dependencies, repeatable) and optionally
// suffixed the same way for descendants. An empty selection returns p
// unchanged.
func (p *PipelineDefinition) SubsetForExecution(selection []string) (*PipelineDefinition, error) {
	if len(selection) == 0 {
		return p, nil
	}

	children := make(map[string][]string, len(p.Solids))
	for _, s := range p.Solids {
		for _, dep := range s.DependsOn {
			children[dep] = append(children[dep], s.Name)
		}
	}
	parents := func(name string) []string {
		if s, ok := p.Solid(name); ok {
			return s.DependsOn
		}
		return nil
	}
	childrenOf := func(name string) []string { return children[name] }

	selected := make(map[string]bool)
	var unknown []string
	for _, raw := range selection {
		item := strings.TrimSpace(raw)
		up, item := selectionDepth(item, true)
		down, name := selectionDepth(item, false)
		if _, ok := p.Solid(name); !ok {
			unknown = append(unknown, fmt.Sprintf("%q", name))
			continue
		}
		selected[name] = true
		expand(name, up, parents, selected, map[string]bool{})
		expand(name, down, childrenOf, selected, map[string]bool{})
	}
	if len(unknown) > 0 {
		return nil, &InvalidSubsetError{PipelineName: p.Name, Unknown: unknown}
	}

	sub := &PipelineDefinition{Name: p.Name, Description: p.Description}
	for _, s := range p.Solids {
		if !selected[s.Name] {
			continue
		}
		cp := s
		cp.DependsOn = nil
		for _, dep := range s.DependsOn {
			if selected[dep] {
				cp.DependsOn = append(cp.DependsOn, dep)
			}
		}
		sub.Solids = append(sub.Solids, cp)
	}
	return sub, nil
}

// selectionDepth strips "*" or "+" markers from the front (prefix) or back
// of item. It returns -1 for "*" (unbounded) or the number of "+".
func selectionDepth(item string, prefix bool) (int, string) {
	at := func(s string) byte {
		if prefix {
			return s[0]
		}
		return s[len(s)-1]
	}
	trim := func(s string) string {
		if prefix {
			return s[1:]
		}
		return s[:len(s)-1]
	}
	if len(item) > 1 && at(item) == '*' {
		return -1, trim(item)
	}
	depth := 0
	for len(item) > 1 && at(item) == '+' {
		depth++
		item = trim(item)
	}
	return depth, item
}

func expand(name string, depth int, next func(string) []string, selected, visited map[string]bool) {
	if depth == 0 {
		return
	}
	for _, n := range next(name) {
		if visited[n] {
			continue
		}
		visited[n] = true
		selected[n] = true
		expand(n, depth-1, next, selected, visited)
	}
}

// SolidSnapshot describes one solid of a PipelineSnapshot.
type SolidSnapshot struct {
	Name      string   `cbor:"name"`
	DependsOn []string `cbor:"depends_on,omitempty"`
	Retries   int      `cbor:"retries,omitempty"`
}

// PipelineSnapshot is the externally shareable description of a pipeline
// definition: plain data without operator code.
type PipelineSnapshot struct {
	Name        string          `cbor:"name"`
	Description string          `cbor:"description,omitempty"`
	Solids      []SolidSnapshot `cbor:"solids"`
}

// Snapshot describes p.
func (p *PipelineDefinition) Snapshot() PipelineSnapshot {
	snap := PipelineSnapshot{Name: p.Name, Description: p.Description}
	for _, s := range p.Solids {
		ss := SolidSnapshot{Name: s.Name, DependsOn: append([]string(nil), s.DependsOn...)}
		if s.Retry != nil && s.Retry.MaxAttempts > 1 {
			ss.Retries = s.Retry.MaxAttempts - 1
		}
		snap.Solids = append(snap.Solids, ss)
	}
	return snap
}

// ScheduleContext is passed to the functions of a schedule.
type ScheduleContext struct {
	Context     context.Context
	Instance    Instance
	ScheduledAt time.Time
}

// ScheduleDefinition describes when and how a pipeline is launched on a
// cron schedule. Nil functions use defaults: always execute, empty run config
// and no tags.
type ScheduleDefinition struct {
	Name         string
	PipelineName string
	CronSchedule string

	ShouldExecute func(ScheduleContext) (bool, error)
	RunConfigFn   func(ScheduleContext) (map[string]any, error)
	TagsFn        func(ScheduleContext) (map[string]string, error)
}

// EvaluateShouldExecute runs the schedule's predicate.
func (s *ScheduleDefinition) EvaluateShouldExecute(sc ScheduleContext) (bool, error) {
	if s.ShouldExecute == nil {
		return true, nil
	}
	return s.ShouldExecute(sc)
}

// RunConfig runs the schedule's run config function.
func (s *ScheduleDefinition) RunConfig(sc ScheduleContext) (map[string]any, error) {
	if s.RunConfigFn == nil {
		return map[string]any{}, nil
	}
	return s.RunConfigFn(sc)
}

// Tags runs the schedule's tags function.
func (s *ScheduleDefinition) Tags(sc ScheduleContext) (map[string]string, error) {
	if s.TagsFn == nil {
		return map[string]string{}, nil
	}
	return s.TagsFn(sc)
}

// Partition is one slice of a partitioned pipeline's input space.
type Partition struct {
	Name  string
	Value any
}

// Tags applied to runs launched for a partition.
const (
	TagPartition    = "pipehost/partition"
	TagPartitionSet = "pipehost/partition_set"
)

// PartitionSetDefinition splits a pipeline's work into named partitions.
type PartitionSetDefinition struct {
	Name         string
	PipelineName string

	PartitionFn func() ([]Partition, error)

	// RunConfigForPartition defaults to an empty run config.
	RunConfigForPartition func(Partition) (map[string]any, error)

	// TagsForPartition defaults to the partition and partition set tags.
	TagsForPartition func(Partition) (map[string]string, error)
}

// Partitions lists the partitions of the set.
func (s *PartitionSetDefinition) Partitions() ([]Partition, error) {
	if s.PartitionFn == nil {
		return nil, nil
	}
	return s.PartitionFn()
}

// PartitionNames lists the names of the set's partitions in order.
func (s *PartitionSetDefinition) PartitionNames() ([]string, error) {
	parts, err := s.Partitions()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		names = append(names, p.Name)
	}
	return names, nil
}

// Partition looks up a partition by name.
func (s *PartitionSetDefinition) Partition(name string) (Partition, error) {
	parts, err := s.Partitions()
	if err != nil {
		return Partition{}, err
	}
	return s.FindPartition(parts, name)
}

// FindPartition picks name out of parts, a result of Partitions.
func (s *PartitionSetDefinition) FindPartition(parts []Partition, name string) (Partition, error) {
	for _, p := range parts {
		if p.Name == name {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: %q in partition set %q", ErrPartitionNotFound, name, s.Name)
}

// RunConfigFor computes the run config for p.
func (s *PartitionSetDefinition) RunConfigFor(p Partition) (map[string]any, error) {
	if s.RunConfigForPartition == nil {
		return map[string]any{}, nil
	}
	return s.RunConfigForPartition(p)
}

// TagsFor computes the tags for p.
func (s *PartitionSetDefinition) TagsFor(p Partition) (map[string]string, error) {
	if s.TagsForPartition == nil {
		return map[string]string{TagPartition: p.Name, TagPartitionSet: s.Name}, nil
	}
	return s.TagsForPartition(p)
}

// DailyPartitions returns a partition function producing one partition per
// day from start through end inclusive, named in YYYY-MM-DD form. The value
// of each partition is the day's midnight in start's location.
func DailyPartitions(start, end time.Time) func() ([]Partition, error) {
	return func() ([]Partition, error) {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		if end.Before(day) {
			return nil, fmt.Errorf("daily partitions: end %s is before start %s", end.Format(time.DateOnly), day.Format(time.DateOnly))
		}
		var parts []Partition
		for !day.After(end) {
			parts = append(parts, Partition{Name: day.Format(time.DateOnly), Value: day})
			day = day.AddDate(0, 0, 1)
		}
		return parts, nil
	}
}

// RepositoryDefinition groups pipelines, schedules and partition sets under
// a name.
type RepositoryDefinition struct {
	Name          string
	Pipelines     []*PipelineDefinition
	Schedules     []*ScheduleDefinition
	PartitionSets []*PartitionSetDefinition
}

// Pipeline looks up a pipeline by name.
func (r *RepositoryDefinition) Pipeline(name string) (*PipelineDefinition, error) {
	for _, p := range r.Pipelines {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in repository %q", ErrPipelineNotFound, name, r.Name)
}

// Schedule looks up a schedule by name.
func (r *RepositoryDefinition) Schedule(name string) (*ScheduleDefinition, error) {
	for _, s := range r.Schedules {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in repository %q", ErrScheduleNotFound, name, r.Name)
}

// PartitionSet looks up a partition set by name.
func (r *RepositoryDefinition) PartitionSet(name string) (*PartitionSetDefinition, error) {
	for _, s := range r.PartitionSets {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q in repository %q", ErrPartitionSetNotFound, name, r.Name)
}

// Validate checks every pipeline and that schedules and partition sets
// target pipelines of the repository.
func (r *RepositoryDefinition) Validate() error {
	if r.Name == "" {
		return errors.New("repository name is required")
	}
	names := make(map[string]bool, len(r.Pipelines))
	for _, p := range r.Pipelines {
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate pipeline %q in repository %q", ErrInvalidPipeline, p.Name, r.Name)
		}
		names[p.Name] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	for _, s := range r.Schedules {
		if !names[s.PipelineName] {
			return fmt.Errorf("schedule %q targets %w: %q", s.Name, ErrPipelineNotFound, s.PipelineName)
		}
	}
	for _, s := range r.PartitionSets {
		if !names[s.PipelineName] {
			return fmt.Errorf("partition set %q targets %w: %q", s.Name, ErrPipelineNotFound, s.PipelineName)
		}
	}
	return nil
}
