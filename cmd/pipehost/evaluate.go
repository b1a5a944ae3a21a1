package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/petrijr/pipehost"
)

func runSchedule(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		name       string
		at         string
		launch     bool
	)
	fs := newFlagSet("schedule", stderr, &configPath)
	fs.StringVar(&name, "name", "", "schedule to evaluate (required)")
	fs.StringVar(&at, "at", "", "tick time in RFC 3339 (default now)")
	fs.BoolVar(&launch, "launch", false, "also evaluate the should-execute predicate")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if name == "" {
		return errors.New("--name is required")
	}
	var tick time.Time
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		tick = t
	}

	a, err := newApp(configPath, stderr, false)
	if err != nil {
		return err
	}
	h, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	mode := pipehost.ScheduleModePreview
	if launch {
		mode = pipehost.ScheduleModeLaunchScheduledExecution
	}
	res, err := h.EvaluateSchedule(ctx, pipehost.ScheduleExecutionArgs{
		RepositoryOrigin: demoRepository().Origin(),
		InstanceRef:      h.Ref(),
		ScheduleName:     name,
		Mode:             mode,
		ScheduledAt:      tick,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("schedule %q: %s", name, res.Error.String())
	}
	if res.Value.ShouldExecute != nil {
		fmt.Fprintf(stdout, "should execute: %t\n", *res.Value.ShouldExecute)
	}
	fmt.Fprintf(stdout, "run config: %v\n", res.Value.RunConfig)
	printTags(stdout, res.Value.Tags)
	return nil
}

func runPartitions(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		set        string
		partition  string
	)
	fs := newFlagSet("partitions", stderr, &configPath)
	fs.StringVar(&set, "set", "", "partition set (required)")
	fs.StringVar(&partition, "partition", "", "show config and tags of this partition")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if set == "" {
		return errors.New("--set is required")
	}

	a, err := newApp(configPath, stderr, false)
	if err != nil {
		return err
	}
	h, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()
	origin := demoRepository().Origin()

	if partition == "" {
		res, err := h.PartitionNames(pipehost.PartitionNamesArgs{RepositoryOrigin: origin, PartitionSetName: set})
		if err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("partition set %q: %s", set, res.Error.String())
		}
		for _, n := range res.Value.PartitionNames {
			fmt.Fprintln(stdout, n)
		}
		return nil
	}

	pa := pipehost.PartitionArgs{RepositoryOrigin: origin, PartitionSetName: set, PartitionName: partition}
	cfgRes, err := h.PartitionConfig(pa)
	if err != nil {
		return err
	}
	if !cfgRes.Success {
		return fmt.Errorf("partition %q: %s", partition, cfgRes.Error.String())
	}
	tagRes, err := h.PartitionTags(pa)
	if err != nil {
		return err
	}
	if !tagRes.Success {
		return fmt.Errorf("partition %q: %s", partition, tagRes.Error.String())
	}
	fmt.Fprintf(stdout, "run config: %v\n", cfgRes.Value.RunConfig)
	printTags(stdout, tagRes.Value.Tags)
	return nil
}

func printTags(w io.Writer, tags map[string]string) {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "tag %s=%s\n", k, tags[k])
	}
}
