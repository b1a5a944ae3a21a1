package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/pipehost"
)

// demoRepository is the repository compiled into the pipehost binary.
// Programs embedding pipehost register their own repositories instead.
func demoRepository() *pipehost.RepositoryBuilder {
	etl := pipehost.NewPipeline("etl").
		Describe("Extracts a few records, transforms and counts them.").
		Solid("extract", func(ctx context.Context, in pipehost.SolidInput) (any, error) {
			return []string{"alpha", "beta", "gamma"}, nil
		}).
		Solid("transform", func(ctx context.Context, in pipehost.SolidInput) (any, error) {
			rows, _ := in.Inputs["extract"].([]string)
			out := make([]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, strings.ToUpper(r))
			}
			return out, nil
		}, "extract").
		SolidWithRetry("load", func(ctx context.Context, in pipehost.SolidInput) (any, error) {
			rows, _ := in.Inputs["transform"].([]string)
			return len(rows), nil
		}, pipehost.Retry(3).WithExponentialBackoff(100*time.Millisecond, 2, time.Second).Policy(), "transform")

	sleep := pipehost.NewPipeline("sleep").
		Describe("Sleeps for solids.nap.config seconds (default 30); useful to try termination.").
		Solid("nap", func(ctx context.Context, in pipehost.SolidInput) (any, error) {
			d := 30 * time.Second
			if secs, ok := in.Config.(int); ok {
				d = time.Duration(secs) * time.Second
			}
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
				return nil, nil
			}
		})

	fail := pipehost.NewPipeline("fail").
		Solid("explode", func(ctx context.Context, in pipehost.SolidInput) (any, error) {
			return nil, fmt.Errorf("exploded on purpose")
		})

	return pipehost.NewRepository("demo").
		Pipeline(etl).
		Pipeline(sleep).
		Pipeline(fail).
		Schedule(pipehost.ScheduleDefinition{
			Name:         "nightly",
			PipelineName: "etl",
			CronSchedule: "0 2 * * *",
			RunConfigFn: func(sc pipehost.ScheduleContext) (map[string]any, error) {
				return map[string]any{"date": sc.ScheduledAt.Format(time.DateOnly)}, nil
			},
			TagsFn: func(sc pipehost.ScheduleContext) (map[string]string, error) {
				return map[string]string{"schedule": "nightly"}, nil
			},
		}).
		PartitionSet(pipehost.PartitionSetDefinition{
			Name:         "daily",
			PipelineName: "etl",
			PartitionFn: pipehost.DailyPartitions(
				time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)),
		})
}
