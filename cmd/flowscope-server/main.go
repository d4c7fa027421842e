// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/config"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/process"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/lib/version"
	"github.com/bureau-foundation/flowscope/observer"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		nodeName    string
		showVersion bool
	)
	flags := pflag.NewFlagSet("flowscope-server", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to flowscope.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flags.StringVar(&nodeName, "node-name", "", "override node_name from the config file")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("flowscope-server")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if nodeName != "" {
		cfg.NodeName = nodeName
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	level, err := service.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := service.NewLogger(level).With("node", cfg.NodeName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	serverMetrics, err := metrics.New(registry)
	if err != nil {
		return err
	}

	node, err := newNode(cfg, logger, serverMetrics)
	if err != nil {
		return err
	}
	return node.serve(ctx, cfg, registry)
}

// node holds a running server's state.
type node struct {
	observer *observer.Observer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func newNode(cfg *config.Config, logger *slog.Logger, serverMetrics *metrics.Metrics) (*node, error) {
	flows, err := ringbuffer.New[*flow.Flow](cfg.Buffer.Flows)
	if err != nil {
		return nil, fmt.Errorf("flow buffer: %w", err)
	}
	agentEvents, err := ringbuffer.New[*flow.AgentEvent](cfg.Buffer.AgentEvents)
	if err != nil {
		return nil, fmt.Errorf("agent event buffer: %w", err)
	}
	debugEvents, err := ringbuffer.New[*flow.DebugEvent](cfg.Buffer.DebugEvents)
	if err != nil {
		return nil, fmt.Errorf("debug event buffer: %w", err)
	}

	var tls *flow.TLS
	if cfg.TLS.Enabled {
		tls = &flow.TLS{Enabled: true, ServerName: cfg.TLS.ServerName}
	}
	o, err := observer.New(observer.Config{
		NodeName:    cfg.NodeName,
		Version:     version.Short(),
		Address:     cfg.SocketPath,
		TLS:         tls,
		Flows:       flows,
		AgentEvents: agentEvents,
		DebugEvents: debugEvents,
		Status:      observer.NewFeed[flow.NodeStatusEvent](0),
		Clock:       clock.Real(),
		Logger:      logger,
		Metrics:     serverMetrics,
	})
	if err != nil {
		return nil, err
	}
	return &node{observer: o, logger: logger, metrics: serverMetrics}, nil
}

// serve runs every listener until ctx is done and all of them have
// drained.
func (n *node) serve(ctx context.Context, cfg *config.Config, gatherer prometheus.Gatherer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queries := service.NewSocketServer(cfg.SocketPath, n.logger, nil)
	n.registerQueryActions(queries)

	ingest := service.NewSocketServer(cfg.IngestSocketPath, n.logger, service.SameUserOrRoot(service.CurrentUID()))
	ingest.HandleStream("ingest", n.handleIngest)

	type task struct {
		name string
		run  func(context.Context) error
	}
	tasks := []task{
		{"query socket", queries.Serve},
		{"ingest socket", ingest.Serve},
	}
	if cfg.MetricsAddress != "" {
		httpServer, err := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.MetricsAddress,
			Handler: service.MetricsHandler(gatherer, nil),
			Logger:  n.logger,
		})
		if err != nil {
			return err
		}
		tasks = append(tasks, task{"metrics", httpServer.Serve})
	}
	if cfg.Export.Path != "" {
		exportTask, err := n.newExport(cfg.Export)
		if err != nil {
			return err
		}
		tasks = append(tasks, task{"export", exportTask})
	}

	errs := make(chan error, len(tasks))
	for _, t := range tasks {
		go func() {
			err := t.run(ctx)
			if err != nil {
				err = fmt.Errorf("%s: %w", t.name, err)
				// One failed listener takes the whole server down.
				cancel()
			}
			errs <- err
		}()
	}

	n.logger.Info("flowscope server running",
		"socket", cfg.SocketPath,
		"ingest_socket", cfg.IngestSocketPath,
		"flow_buffer", cfg.Buffer.Flows,
	)
	<-ctx.Done()
	n.logger.Info("shutting down")

	var failures []error
	for range tasks {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
