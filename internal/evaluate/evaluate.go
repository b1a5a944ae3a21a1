// Package evaluate runs schedule and partition set functions and pipeline
// subset resolution on behalf of a remote caller. Faults in operator code
// come back as failure envelopes; only definition lookup problems are
// returned as errors.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/petrijr/pipehost/internal/repository"
	"github.com/petrijr/pipehost/internal/usercode"
	"github.com/petrijr/pipehost/pkg/api"
)

// InstanceOpener opens the instance handed to schedule functions.
type InstanceOpener func(ctx context.Context, ref api.InstanceRef) (api.Instance, error)

// userCodeInfo captures err for a failure envelope. The original fault
// recorded by the boundary becomes the cause so its stack survives.
func userCodeInfo(err error) *api.SerializableErrorInfo {
	info := api.ErrorInfoFromError(err)
	var (
		sched *usercode.ScheduleExecutionError
		part  *usercode.PartitionExecutionError
	)
	switch {
	case errors.As(err, &sched) && sched.OriginalErrorInfo != nil:
		info.Cause = sched.OriginalErrorInfo
	case errors.As(err, &part) && part.OriginalErrorInfo != nil:
		info.Cause = part.OriginalErrorInfo
	}
	return info
}

// ScheduleExecution evaluates one tick of a schedule. In launch mode the
// should_execute predicate runs first and a false result returns at once,
// without calling the run config or tags functions.
func ScheduleExecution(ctx context.Context, reg *repository.Registry, open InstanceOpener, args api.ScheduleExecutionArgs) (api.EvaluationResult[api.ScheduleExecutionData], error) {
	type result = api.EvaluationResult[api.ScheduleExecutionData]

	repo, err := reg.Get(args.RepositoryOrigin)
	if err != nil {
		return result{}, err
	}
	sched, err := repo.Schedule(args.ScheduleName)
	if err != nil {
		return result{}, err
	}

	var inst api.Instance
	if open != nil {
		inst, err = open(ctx, args.InstanceRef)
		if err != nil {
			return result{}, fmt.Errorf("open instance for schedule %q: %w", sched.Name, err)
		}
		if c, ok := inst.(io.Closer); ok {
			defer func() { _ = c.Close() }()
		}
	}

	scheduledAt := args.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	sc := api.ScheduleContext{Context: ctx, Instance: inst, ScheduledAt: scheduledAt}

	var shouldExecute *bool
	if args.Mode == api.ScheduleModeLaunchScheduledExecution {
		ok, err := usercode.Boundary(ctx, usercode.NewScheduleExecutionError, func() string {
			return fmt.Sprintf("Error occurred during the execution of should_execute for schedule %s", sched.Name)
		}, func() (bool, error) {
			return sched.EvaluateShouldExecute(sc)
		})
		if err != nil {
			return scheduleFailure(err)
		}
		if !ok {
			no := false
			return api.Succeeded(api.ScheduleExecutionData{ShouldExecute: &no}), nil
		}
		shouldExecute = &ok
	}

	runConfig, err := usercode.Boundary(ctx, usercode.NewScheduleExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the execution of run_config_fn for schedule %s", sched.Name)
	}, func() (map[string]any, error) {
		return sched.RunConfig(sc)
	})
	if err != nil {
		return scheduleFailure(err)
	}

	tags, err := usercode.Boundary(ctx, usercode.NewScheduleExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the execution of tags_fn for schedule %s", sched.Name)
	}, func() (map[string]string, error) {
		return sched.Tags(sc)
	})
	if err != nil {
		return scheduleFailure(err)
	}

	return api.Succeeded(api.ScheduleExecutionData{
		RunConfig:     runConfig,
		Tags:          tags,
		ShouldExecute: shouldExecute,
	}), nil
}

// scheduleFailure turns a ScheduleExecutionError into a failure envelope.
// Any other error is the cancellation of the evaluation ctx and is returned
// as is.
func scheduleFailure(err error) (api.EvaluationResult[api.ScheduleExecutionData], error) {
	var sched *usercode.ScheduleExecutionError
	if errors.As(err, &sched) {
		return api.Failed[api.ScheduleExecutionData](userCodeInfo(err)), nil
	}
	return api.EvaluationResult[api.ScheduleExecutionData]{}, err
}

func partitionSet(reg *repository.Registry, origin api.RepositoryOrigin, name string) (*api.PartitionSetDefinition, error) {
	repo, err := reg.Get(origin)
	if err != nil {
		return nil, err
	}
	return repo.PartitionSet(name)
}

// partitionFailure is scheduleFailure for partition set boundaries.
func partitionFailure[T any](err error) (api.EvaluationResult[T], error) {
	var part *usercode.PartitionExecutionError
	if errors.As(err, &part) {
		return api.Failed[T](userCodeInfo(err)), nil
	}
	return api.EvaluationResult[T]{}, err
}

// partition generates the partitions of set under the partition boundary
// and picks name out of them. Generation faults become a failure envelope
// (ok == false); an unknown name is returned as ErrPartitionNotFound.
func partition[T any](set *api.PartitionSetDefinition, name string) (p api.Partition, res api.EvaluationResult[T], ok bool, err error) {
	parts, err := usercode.Boundary(context.Background(), usercode.NewPartitionExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the execution of the partition generation function for partition set %s", set.Name)
	}, set.Partitions)
	if err != nil {
		res, err = partitionFailure[T](err)
		return p, res, false, err
	}
	p, err = set.FindPartition(parts, name)
	if err != nil {
		return p, res, false, err
	}
	return p, res, true, nil
}

// PartitionConfig computes the run config of one partition.
func PartitionConfig(reg *repository.Registry, args api.PartitionArgs) (api.EvaluationResult[api.PartitionConfigData], error) {
	set, err := partitionSet(reg, args.RepositoryOrigin, args.PartitionSetName)
	if err != nil {
		return api.EvaluationResult[api.PartitionConfigData]{}, err
	}
	p, res, ok, err := partition[api.PartitionConfigData](set, args.PartitionName)
	if !ok {
		return res, err
	}
	runConfig, err := usercode.Boundary(context.Background(), usercode.NewPartitionExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the evaluation of the `run_config_for_partition` function for partition set %s", set.Name)
	}, func() (map[string]any, error) {
		return set.RunConfigFor(p)
	})
	if err != nil {
		return partitionFailure[api.PartitionConfigData](err)
	}
	return api.Succeeded(api.PartitionConfigData{Name: p.Name, RunConfig: runConfig}), nil
}

// PartitionNames lists the partitions of a partition set.
func PartitionNames(reg *repository.Registry, args api.PartitionNamesArgs) (api.EvaluationResult[api.PartitionNamesData], error) {
	set, err := partitionSet(reg, args.RepositoryOrigin, args.PartitionSetName)
	if err != nil {
		return api.EvaluationResult[api.PartitionNamesData]{}, err
	}
	names, err := usercode.Boundary(context.Background(), usercode.NewPartitionExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the execution of the partition generation function for partition set %s", set.Name)
	}, set.PartitionNames)
	if err != nil {
		return partitionFailure[api.PartitionNamesData](err)
	}
	return api.Succeeded(api.PartitionNamesData{PartitionNames: names}), nil
}

// PartitionTags computes the tags of one partition.
func PartitionTags(reg *repository.Registry, args api.PartitionArgs) (api.EvaluationResult[api.PartitionTagsData], error) {
	set, err := partitionSet(reg, args.RepositoryOrigin, args.PartitionSetName)
	if err != nil {
		return api.EvaluationResult[api.PartitionTagsData]{}, err
	}
	p, res, ok, err := partition[api.PartitionTagsData](set, args.PartitionName)
	if !ok {
		return res, err
	}
	tags, err := usercode.Boundary(context.Background(), usercode.NewPartitionExecutionError, func() string {
		return fmt.Sprintf("Error occurred during the evaluation of the `tags_for_partition` function for partition set %s", set.Name)
	}, func() (map[string]string, error) {
		return set.TagsFor(p)
	})
	if err != nil {
		return partitionFailure[api.PartitionTagsData](err)
	}
	return api.Succeeded(api.PartitionTagsData{Name: p.Name, Tags: tags}), nil
}
