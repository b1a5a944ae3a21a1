package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/petrijr/pipehost"
	"github.com/petrijr/pipehost/internal/config"
)

// runFlags are the flags describing a new run.
type runFlags struct {
	pipeline  string
	solids    []string
	runConfig string
	tags      map[string]string
}

func (f *runFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.pipeline, "pipeline", "p", "", "pipeline to run (required)")
	fs.StringSliceVar(&f.solids, "solid", nil, "execute only these solids (repeatable)")
	fs.StringVar(&f.runConfig, "run-config", "", "YAML or JSONC run config file")
	fs.StringToStringVar(&f.tags, "tag", nil, "run tag as key=value (repeatable)")
}

// createRun validates the flags and stores a new run on h.
func (f *runFlags) createRun(ctx context.Context, h *pipehost.Host) (*pipehost.PipelineRun, pipehost.ExecuteRunArgs, error) {
	if f.pipeline == "" {
		return nil, pipehost.ExecuteRunArgs{}, errors.New("--pipeline is required")
	}
	var rc map[string]any
	if f.runConfig != "" {
		var err error
		if rc, err = config.LoadRunConfig(f.runConfig); err != nil {
			return nil, pipehost.ExecuteRunArgs{}, err
		}
	}
	recon := pipehost.ReconstructablePipeline{
		Repository:   demoRepository().Origin(),
		PipelineName: f.pipeline,
	}
	if len(f.solids) > 0 {
		recon = recon.WithSolidSelection(f.solids)
	}
	return h.CreateRun(ctx, recon, rc, f.tags)
}

func runLaunch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		rf         runFlags
	)
	fs := newFlagSet("launch", stderr, &configPath)
	rf.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(configPath, stderr, true)
	if err != nil {
		return err
	}
	defer a.close()

	h, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()

	run, execArgs, err := rf.createRun(ctx, h)
	if err != nil {
		return err
	}

	// The run outlives ctx: an interrupt terminates it and we keep draining
	// until the worker reports completion.
	runCtx := context.WithoutCancel(ctx)
	var handle *pipehost.RunHandle
	if a.cfg.Worker.Mode == config.ModeSubprocess {
		handle, err = h.StartRunInSubprocess(runCtx, execArgs, a.workerCommand(), a.subprocessOptions(stderr))
	} else {
		handle, err = h.StartRun(runCtx, execArgs)
	}
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			a.logger.Warn("run_terminating", "run_id", run.RunID)
			handle.Terminate()
		case <-done:
		}
	}()

	var setupErr error
	for ev, err := range handle.Events(runCtx) {
		if err != nil {
			setupErr = errors.Join(setupErr, err)
			continue
		}
		printEvent(stdout, ev)
	}
	waitErr := handle.Wait(runCtx)

	stored, err := h.Instance().GetRunByID(runCtx, run.RunID)
	if err != nil {
		return errors.Join(setupErr, err)
	}
	fmt.Fprintf(stdout, "run %s finished with status %s\n", run.RunID, stored.Status)
	if setupErr != nil {
		return setupErr
	}
	if stored.Status != pipehost.RunStatusSuccess {
		return errors.Join(fmt.Errorf("run %s: %s", run.RunID, stored.Status), ignoreInterrupt(waitErr))
	}
	return nil
}

func ignoreInterrupt(err error) error {
	if pipehost.IsInterrupt(err) {
		return nil
	}
	return err
}

func printEvent(w io.Writer, ev *pipehost.EngineEvent) {
	step := ev.StepKey
	if step == "" {
		step = "-"
	}
	fmt.Fprintf(w, "%s  %-18s %-12s %s\n", ev.At.Format(time.TimeOnly), ev.Type, step, ev.Message)
	if ev.Data != nil && ev.Data.Error != nil {
		fmt.Fprintf(w, "    %s\n", ev.Data.Error.String())
	}
}
