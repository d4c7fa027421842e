// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/flowscope/exporter"
	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/config"
	"github.com/bureau-foundation/flowscope/lib/filter"
)

// newExport prepares the export pipeline and returns the task that
// runs it: sources fan into the multiplexer, which writes the file
// sink until ctx is done.
func (n *node) newExport(cfg config.ExportConfig) (func(context.Context) error, error) {
	compression, err := exporter.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	var engine *filter.Engine
	if cfg.FilterFile != "" {
		lists, err := filter.LoadFile(cfg.FilterFile)
		if err != nil {
			return nil, fmt.Errorf("export filter: %w", err)
		}
		if engine, err = lists.Engine(); err != nil {
			return nil, fmt.Errorf("export filter: %w", err)
		}
	}

	logger := n.logger.With("component", "export")
	sink, err := exporter.NewFileSink(exporter.FileSinkConfig{
		Path:         cfg.Path,
		NodeName:     n.observer.NodeName(),
		Compression:  compression,
		ChunkEvents:  cfg.ChunkEvents,
		MaxSizeBytes: cfg.MaxSizeBytes,
		MaxBackups:   cfg.MaxBackups,
		Clock:        clock.Real(),
		Logger:       logger,
		Metrics:      n.metrics,
	})
	if err != nil {
		return nil, err
	}
	multiplexer := exporter.NewMultiplexer(exporter.Config{
		ReorderWindow: cfg.ReorderWindow,
		Clock:         clock.Real(),
		Logger:        logger,
		Metrics:       n.metrics,
	})

	return func(ctx context.Context) error {
		sourceContext, stopSources := context.WithCancel(ctx)
		defer stopSources()
		wait := multiplexer.Attach(sourceContext, exporter.Sources{
			NodeName:    n.observer.NodeName(),
			Flows:       n.observer.Flows(),
			AgentEvents: n.observer.AgentEvents(),
			DebugEvents: n.observer.DebugEvents(),
			Status:      n.observer.Status(),
			Filter:      engine,
		})
		logger.Info("export running", "path", cfg.Path, "compression", compression.String())

		// The multiplexer outlives the sources by one step so that
		// events they publish while stopping still reach the file.
		runContext, stopRun := context.WithCancel(context.Background())
		defer stopRun()
		runDone := make(chan error, 1)
		go func() { runDone <- multiplexer.Run(runContext, sink) }()

		var runErr error
		select {
		case <-ctx.Done():
			wait()
			stopRun()
			runErr = <-runDone
		case runErr = <-runDone:
			stopSources()
			wait()
		}
		return errors.Join(runErr, sink.Close())
	}, nil
}
