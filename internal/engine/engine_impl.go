package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/pipehost/internal/usercode"
	"github.com/petrijr/pipehost/pkg/api"
)

// Mode selects how the solids of one execution level are run.
type Mode string

const (
	// ModeSequential runs solids one at a time in definition order and stops
	// at the first failed solid.
	ModeSequential Mode = "sequential"
	// ModeParallel runs the solids of each level concurrently. Faults of the
	// step goroutines are aggregated into an *api.SubprocessError.
	ModeParallel Mode = "parallel"
)

// Resolver reconstructs the pipeline a run executes.
type Resolver interface {
	Reconstruct(recon api.ReconstructablePipeline) (*api.PipelineDefinition, error)
}

// Config describes how to construct an engineImpl.
type Config struct {
	Resolver Resolver
	Observer api.Observer
	Mode     Mode

	// MaxConcurrency bounds step goroutines in ModeParallel. Zero means one
	// goroutine per solid of a level.
	MaxConcurrency int
}

// engineImpl executes pipelines in-process, level by level.
type engineImpl struct {
	resolver       Resolver
	observer       api.Observer
	mode           Mode
	maxConcurrency int
}

var _ api.Engine = (*engineImpl)(nil)

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeSequential
	}
	return &engineImpl{
		resolver:       cfg.Resolver,
		observer:       obs,
		mode:           mode,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// NewEngine returns a sequential Engine resolving pipelines with r.
func NewEngine(r Resolver) api.Engine {
	return NewEngineWithConfig(Config{Resolver: r})
}

// runState is shared by the step executions of one run.
type runState struct {
	run  *api.PipelineRun
	inst api.Instance

	// emitMu keeps reporting and emitting atomic so the sink sees events in
	// the order the instance stored them.
	emitMu sync.Mutex
	emit   api.EventSink

	outMu   sync.Mutex
	outputs map[string]any
}

func (s *runState) report(ctx context.Context, typ api.EventType, stepKey, message string, data *api.EngineEventData) error {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	ev, err := s.inst.ReportEvent(ctx, s.run, typ, stepKey, message, data)
	if err != nil {
		return err
	}
	return s.emit(ev)
}

func (s *runState) inputsFor(solid api.SolidDefinition) map[string]any {
	s.outMu.Lock()
	defer s.outMu.Unlock()

	in := make(map[string]any, len(solid.DependsOn))
	for _, dep := range solid.DependsOn {
		if v, ok := s.outputs[dep]; ok {
			in[dep] = v
		}
	}
	return in
}

func (s *runState) setOutput(name string, v any) {
	s.outMu.Lock()
	s.outputs[name] = v
	s.outMu.Unlock()
}

func (e *engineImpl) ExecuteRunIterator(ctx context.Context, recon api.ReconstructablePipeline, run *api.PipelineRun, inst api.Instance, emit api.EventSink) error {
	if e.resolver == nil {
		return errors.New("engine: no pipeline resolver configured")
	}
	def, err := e.resolver.Reconstruct(recon)
	if err != nil {
		return fmt.Errorf("reconstruct pipeline %q: %w", recon.PipelineName, err)
	}
	levels, err := def.ExecutionLevels()
	if err != nil {
		return err
	}

	state := &runState{run: run, inst: inst, emit: emit, outputs: make(map[string]any)}

	if _, err := inst.UpdateRunStatus(ctx, run.RunID, api.RunStatusStarted); err != nil {
		return err
	}
	run.Status = api.RunStatusStarted
	e.observer.OnRunStart(ctx, run)
	if err := state.report(ctx, api.EventPipelineStart, "", fmt.Sprintf("Started execution of pipeline %q.", run.PipelineName), nil); err != nil {
		return e.fault(ctx, run, err)
	}

	var stepErr error
	for _, level := range levels {
		var ok bool
		if e.mode == ModeParallel {
			ok, err = e.executeLevelParallel(ctx, state, level)
		} else {
			ok, err = e.executeLevelSequential(ctx, state, level)
		}
		if err != nil {
			return e.fault(ctx, run, err)
		}
		if !ok {
			stepErr = fmt.Errorf("pipeline %q: solid failed", run.PipelineName)
			break
		}
	}

	if stepErr != nil {
		changed, err := inst.UpdateRunStatus(ctx, run.RunID, api.RunStatusFailure)
		if err != nil {
			return e.fault(ctx, run, err)
		}
		run.Status = api.RunStatusFailure
		e.observer.OnRunFailed(ctx, run, stepErr)
		if !changed {
			return nil
		}
		if err := state.report(ctx, api.EventPipelineFailure, "", fmt.Sprintf("Execution of pipeline %q failed.", run.PipelineName), nil); err != nil {
			return err
		}
		return nil
	}

	changed, err := inst.UpdateRunStatus(ctx, run.RunID, api.RunStatusSuccess)
	if err != nil {
		return e.fault(ctx, run, err)
	}
	run.Status = api.RunStatusSuccess
	e.observer.OnRunSucceeded(ctx, run)
	if !changed {
		return nil
	}
	return state.report(ctx, api.EventPipelineSuccess, "", fmt.Sprintf("Finished execution of pipeline %q.", run.PipelineName), nil)
}

// fault notifies the observer about an error that ends the run outside of
// normal solid failure handling and returns err.
func (e *engineImpl) fault(ctx context.Context, run *api.PipelineRun, err error) error {
	var agg *api.SubprocessError
	switch {
	case ctx.Err() != nil && api.IsInterrupt(err), errors.As(err, &agg) && agg.AllInterrupted():
		e.observer.OnRunCanceled(ctx, run)
	default:
		e.observer.OnRunFailed(ctx, run, err)
	}
	return err
}

func (e *engineImpl) executeLevelSequential(ctx context.Context, state *runState, level []api.SolidDefinition) (bool, error) {
	for _, solid := range level {
		ok, err := e.executeSolid(ctx, state, solid)
		if err != nil || !ok {
			return ok, err
		}
	}
	return true, nil
}

func (e *engineImpl) executeLevelParallel(ctx context.Context, state *runState, level []api.SolidDefinition) (bool, error) {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		faults error
		allOK  = true
	)
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}

	for _, solid := range level {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("step worker for %q crashed: %w", solid.Name, &usercode.PanicError{Value: r})
				}
				if err != nil {
					mu.Lock()
					faults = multierr.Append(faults, err)
					mu.Unlock()
				}
			}()

			ok, err := e.executeSolid(ctx, state, solid)
			if err != nil && ctx.Err() != nil && api.IsInterrupt(err) {
				err = &api.InterruptedError{Reason: fmt.Sprintf("step %q", solid.Name)}
			}
			if err == nil && !ok {
				mu.Lock()
				allOK = false
				mu.Unlock()
			}
			return err
		})
	}
	_ = g.Wait()

	if faults == nil {
		return allOK, nil
	}
	errs := multierr.Errors(faults)
	for _, err := range errs {
		if errors.Is(err, api.ErrSinkClosed) {
			return false, api.ErrSinkClosed
		}
	}
	infos := make([]*api.SerializableErrorInfo, 0, len(errs))
	for _, err := range errs {
		infos = append(infos, api.ErrorInfoFromError(err))
	}
	return false, &api.SubprocessError{
		Message:              "During parallel execution errors occurred in step workers",
		SubprocessErrorInfos: infos,
	}
}

// executeSolid runs solid with its retry policy. ok is false when the solid
// failed after its last attempt. err reports faults that end the run:
// interrupts and instance or sink failures.
func (e *engineImpl) executeSolid(ctx context.Context, state *runState, solid api.SolidDefinition) (ok bool, err error) {
	run := state.run
	maxAttempts := solid.Retry.Attempts()

	in := api.SolidInput{
		RunID:  run.RunID,
		Config: solidConfig(run.RunConfig, solid.Name),
		Inputs: state.inputsFor(solid),
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		meta := map[string]string{"attempt": strconv.Itoa(attempt)}
		e.observer.OnStepStart(ctx, run, solid.Name, attempt)
		if err := state.report(ctx, api.EventStepStart, solid.Name,
			fmt.Sprintf("Started execution of step %q.", solid.Name),
			&api.EngineEventData{Metadata: meta}); err != nil {
			return false, err
		}

		start := time.Now()
		out, stepErr := usercode.Boundary(ctx, usercode.NewSolidExecutionError, func() string {
			return fmt.Sprintf("Error occurred during the execution of solid %q", solid.Name)
		}, func() (any, error) {
			return solid.Fn(ctx, in)
		})
		duration := time.Since(start)
		e.observer.OnStepCompleted(ctx, run, solid.Name, attempt, stepErr, duration)

		if stepErr == nil {
			state.setOutput(solid.Name, out)
			return true, state.report(ctx, api.EventStepSuccess, solid.Name,
				fmt.Sprintf("Finished execution of step %q in %s.", solid.Name, duration.Round(time.Millisecond)),
				&api.EngineEventData{Metadata: map[string]string{
					"attempt":  strconv.Itoa(attempt),
					"duration": duration.String(),
				}})
		}
		// The boundary only leaves the cancellation of ctx unwrapped.
		var uerr *usercode.SolidExecutionError
		if !errors.As(stepErr, &uerr) {
			return false, stepErr
		}

		info := api.ErrorInfoFromError(stepErr)
		if uerr.OriginalErrorInfo != nil {
			info = &api.SerializableErrorInfo{
				Message: uerr.Message,
				ClsName: "SolidExecutionError",
				Cause:   uerr.OriginalErrorInfo,
			}
		}

		if attempt == maxAttempts {
			return false, state.report(ctx, api.EventStepFailure, solid.Name,
				fmt.Sprintf("Execution of step %q failed.", solid.Name),
				&api.EngineEventData{Error: info, Metadata: meta})
		}

		if err := state.report(ctx, api.EventStepRetry, solid.Name,
			fmt.Sprintf("Execution of step %q failed; retrying (attempt %d of %d).", solid.Name, attempt+1, maxAttempts),
			&api.EngineEventData{Error: info, Metadata: meta}); err != nil {
			return false, err
		}

		if delay := solid.Retry.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return false, nil
}

// solidConfig returns runConfig["solids"][name]["config"], or nil.
func solidConfig(runConfig map[string]any, name string) any {
	solids, ok := runConfig["solids"].(map[string]any)
	if !ok {
		return nil
	}
	entry, ok := solids[name].(map[string]any)
	if !ok {
		return nil
	}
	return entry["config"]
}
