// Package metrics exports run and step lifecycle metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/petrijr/pipehost/pkg/api"
)

// Options controls collector configuration.
type Options struct {
	DurationBuckets []float64
}

// PrometheusObserver is an api.Observer backed by Prometheus collectors.
type PrometheusObserver struct {
	runsStarted  *prom.CounterVec
	runsFinished *prom.CounterVec
	runsActive   prom.Gauge
	stepDuration *prom.HistogramVec
	stepAttempts *prom.CounterVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver creates and registers the collectors. Collectors
// already registered on reg are reused, so several observers may share a
// registry.
func NewPrometheusObserver(namespace string, reg prom.Registerer, opts Options) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "pipehost"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	started := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Total number of pipeline runs started.",
	}, []string{"pipeline"})
	finished := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "runs_finished_total",
		Help:      "Total number of pipeline runs finished, by final status.",
	}, []string{"pipeline", "status"})
	active := prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Number of pipeline runs currently executing.",
	})
	duration := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: namespace,
		Name:      "step_duration_seconds",
		Help:      "Step attempt duration in seconds.",
		Buckets:   buckets,
	}, []string{"pipeline", "step", "outcome"})
	attempts := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "step_attempts_total",
		Help:      "Total number of step attempts started.",
	}, []string{"pipeline", "step"})

	var err error
	if started, err = registerCollector(reg, started); err != nil {
		return nil, err
	}
	if finished, err = registerCollector(reg, finished); err != nil {
		return nil, err
	}
	if active, err = registerCollector(reg, active); err != nil {
		return nil, err
	}
	if duration, err = registerCollector(reg, duration); err != nil {
		return nil, err
	}
	if attempts, err = registerCollector(reg, attempts); err != nil {
		return nil, err
	}

	return &PrometheusObserver{
		runsStarted:  started,
		runsFinished: finished,
		runsActive:   active,
		stepDuration: duration,
		stepAttempts: attempts,
	}, nil
}

func (o *PrometheusObserver) OnRunStart(ctx context.Context, run *api.PipelineRun) {
	o.runsStarted.WithLabelValues(pipelineLabel(run)).Inc()
	o.runsActive.Inc()
}

func (o *PrometheusObserver) OnRunSucceeded(ctx context.Context, run *api.PipelineRun) {
	o.finish(run, api.RunStatusSuccess)
}

func (o *PrometheusObserver) OnRunFailed(ctx context.Context, run *api.PipelineRun, err error) {
	o.finish(run, api.RunStatusFailure)
}

func (o *PrometheusObserver) OnRunCanceled(ctx context.Context, run *api.PipelineRun) {
	o.finish(run, api.RunStatusCanceled)
}

func (o *PrometheusObserver) finish(run *api.PipelineRun, status api.RunStatus) {
	o.runsFinished.WithLabelValues(pipelineLabel(run), string(status)).Inc()
	o.runsActive.Dec()
}

func (o *PrometheusObserver) OnStepStart(ctx context.Context, run *api.PipelineRun, stepKey string, attempt int) {
	o.stepAttempts.WithLabelValues(pipelineLabel(run), stepKey).Inc()
}

func (o *PrometheusObserver) OnStepCompleted(ctx context.Context, run *api.PipelineRun, stepKey string, attempt int, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.stepDuration.WithLabelValues(pipelineLabel(run), stepKey, outcome).Observe(d.Seconds())
}

func pipelineLabel(run *api.PipelineRun) string {
	if run == nil || run.PipelineName == "" {
		return "unknown"
	}
	return run.PipelineName
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
