package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/petrijr/pipehost"
	"github.com/petrijr/pipehost/internal/config"
	"github.com/petrijr/pipehost/internal/logging"
	"github.com/petrijr/pipehost/internal/metrics"
	"github.com/petrijr/pipehost/internal/subprocess"
)

// app is the state shared by every command: configuration, logger, host
// options and the optional metrics endpoint.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   []pipehost.HostOption

	metricsSrv *http.Server
}

// newFlagSet returns a flag set with the flags every command takes.
func newFlagSet(name string, stderr io.Writer, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("pipehost "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(configPath, "config", "c", "", "path to a YAML or JSONC config file")
	return fs
}

// parseFlags parses args, mapping --help to errUsage after printing it.
func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return errUsage
		}
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return nil
}

// newApp loads the configuration and builds the logger and host options.
// Metrics are only collected when withMetrics is set and the config
// enables them.
func newApp(configPath string, stderr io.Writer, withMetrics bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	observers := []pipehost.Observer{pipehost.NewLoggingObserver(logger)}

	if withMetrics && cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		obs, err := metrics.NewPrometheusObserver(cfg.Metrics.Namespace, reg, metrics.Options{})
		if err != nil {
			return nil, err
		}
		observers = append(observers, obs)
		if cfg.Metrics.Addr != "" {
			if err := a.serveMetrics(cfg.Metrics.Addr, reg); err != nil {
				return nil, err
			}
		}
	}

	a.opts = []pipehost.HostOption{
		pipehost.WithRepositories(demoRepository().MustBuild()),
		pipehost.WithLogger(logger),
		pipehost.WithObserver(pipehost.NewCompositeObserver(observers...)),
		pipehost.WithExecutionMode(pipehost.ExecutionMode(cfg.Worker.Execution), cfg.Worker.MaxConcurrency),
		pipehost.WithPollInterval(cfg.Worker.PollInterval),
	}
	return a, nil
}

func (a *app) serveMetrics(addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	a.metricsSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics_server_failed", "error", err)
		}
	}()
	a.logger.Info("metrics_listening", "addr", ln.Addr().String())
	return nil
}

// openHost opens the configured instance. Memory instances are created in
// this process.
func (a *app) openHost(ctx context.Context) (*pipehost.Host, error) {
	if a.cfg.Instance.Backend == "memory" {
		return pipehost.NewInMemoryHost(a.cfg.Instance.DSN, a.opts...), nil
	}
	return pipehost.OpenHost(ctx, a.cfg.Instance, a.opts...)
}

// workerCommand returns the configured worker executable.
func (a *app) workerCommand() pipehost.WorkerCommand {
	c := a.cfg.Worker.Command
	return subprocess.Command{Path: c[0], Args: c[1:]}
}

func (a *app) subprocessOptions(stderr io.Writer) pipehost.SubprocessOptions {
	return pipehost.SubprocessOptions{GracePeriod: a.cfg.Worker.GracePeriod, Stderr: stderr}
}

func (a *app) close() {
	if a.metricsSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.metricsSrv.Shutdown(ctx)
}
