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
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/lib/version"
	"github.com/bureau-foundation/flowscope/observer"
	"github.com/bureau-foundation/flowscope/relay"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("flowscope-relay", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to flowscope.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flags.StringVar(&socketPath, "socket", "", "override relay.socket_path from the config file")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("flowscope-relay")
		return nil
	}

	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Relay.SocketPath = socketPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Relay.Peers) == 0 {
		return fmt.Errorf("relay.peers is empty: nothing to aggregate")
	}
	level, err := service.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := service.NewLogger(level).With("relay", cfg.NodeName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics, err := metrics.New(registry)
	if err != nil {
		return err
	}

	peers := make([]relay.Peer, 0, len(cfg.Relay.Peers))
	for _, peer := range cfg.Relay.Peers {
		peers = append(peers, relay.NewSocketPeer(peer.Name, peer.Address))
	}
	r, err := newRelay(cfg.Relay, peers, clock.Real(), logger, relayMetrics)
	if err != nil {
		return err
	}
	return r.serve(ctx, cfg, registry)
}

// relayServer holds the aggregator and the node status feed its
// monitor publishes to.
type relayServer struct {
	aggregator *relay.Aggregator
	monitor    *relay.Monitor
	nodes      *observer.Feed[flow.NodeStatusEvent]
	clock      clock.Clock
	logger     *slog.Logger
}

func newRelay(cfg config.RelayConfig, peers []relay.Peer, clk clock.Clock, logger *slog.Logger, relayMetrics *metrics.Metrics) (*relayServer, error) {
	aggregator, err := relay.New(relay.Config{
		Peers:          peers,
		Timeout:        cfg.PeerTimeout,
		MaxUnavailable: cfg.MaxUnavailableNodes,
		Version:        version.Short(),
		Clock:          clk,
		Logger:         logger,
		Metrics:        relayMetrics,
	})
	if err != nil {
		return nil, err
	}
	nodes := observer.NewFeed[flow.NodeStatusEvent](0)
	return &relayServer{
		aggregator: aggregator,
		monitor:    relay.NewMonitor(aggregator, nodes, cfg.ProbeInterval),
		nodes:      nodes,
		clock:      clk,
		logger:     logger,
	}, nil
}

func (r *relayServer) registerActions(server *service.SocketServer) {
	server.Handle("server_status", r.handleServerStatus)
	server.Handle("get_nodes", r.handleGetNodes)
	server.HandleStream("watch_nodes", r.handleWatchNodes)
}

// serve runs the socket server, the monitor, and the optional metrics
// endpoint until ctx is done.
func (r *relayServer) serve(ctx context.Context, cfg *config.Config, gatherer prometheus.Gatherer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := service.NewSocketServer(cfg.Relay.SocketPath, r.logger, nil)
	r.registerActions(server)

	type task struct {
		name string
		run  func(context.Context) error
	}
	tasks := []task{
		{"relay socket", server.Serve},
		{"node monitor", r.monitor.Run},
	}
	if cfg.MetricsAddress != "" {
		httpServer, err := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.MetricsAddress,
			Handler: service.MetricsHandler(gatherer, nil),
			Logger:  r.logger,
		})
		if err != nil {
			return err
		}
		tasks = append(tasks, task{"metrics", httpServer.Serve})
	}

	errs := make(chan error, len(tasks))
	for _, t := range tasks {
		go func() {
			err := t.run(ctx)
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				err = nil
			}
			if err != nil {
				err = fmt.Errorf("%s: %w", t.name, err)
				cancel()
			}
			errs <- err
		}()
	}

	r.logger.Info("flowscope relay running",
		"socket", cfg.Relay.SocketPath,
		"peers", len(r.aggregator.Peers()),
		"probe_interval", cfg.Relay.ProbeInterval,
	)
	<-ctx.Done()
	r.logger.Info("shutting down")

	var failures []error
	for range tasks {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}
