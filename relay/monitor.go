// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/observer"
)

// Monitor tracks peer connectivity and publishes changes.
type Monitor struct {
	aggregator *Aggregator
	feed       *observer.Feed[flow.NodeStatusEvent]
	interval   time.Duration
	logger     *slog.Logger

	// states is only touched by Probe, which Run calls from one
	// goroutine.
	states map[string]flow.NodeState
}

// NewMonitor returns a Monitor that probes aggregator's peers every
// interval and publishes changes to feed.
func NewMonitor(aggregator *Aggregator, feed *observer.Feed[flow.NodeStatusEvent], interval time.Duration) *Monitor {
	return &Monitor{
		aggregator: aggregator,
		feed:       feed,
		interval:   interval,
		logger:     aggregator.config.Logger,
		states:     make(map[string]flow.NodeState),
	}
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.aggregator.config.Clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe queries every peer once and publishes one event per direction
// of change: nodes that became connected, and nodes that became
// unavailable. It returns the published events.
func (m *Monitor) Probe(ctx context.Context) []flow.NodeStatusEvent {
	results := m.aggregator.Query(ctx, m.aggregator.config.Peers)
	if ctx.Err() != nil {
		return nil
	}

	var connected, unavailable []string
	for _, result := range results {
		name := result.Peer.Name()
		state := flow.NodeConnected
		if result.Err != nil {
			state = flow.NodeUnavailable
		}
		if m.states[name] == state {
			continue
		}
		m.states[name] = state
		if state == flow.NodeConnected {
			connected = append(connected, name)
		} else {
			unavailable = append(unavailable, name)
		}
	}

	var events []flow.NodeStatusEvent
	if len(connected) > 0 {
		events = append(events, flow.NodeStatusEvent{
			StateChange: flow.NodeConnected,
			NodeNames:   connected,
			Message:     fmt.Sprintf("connected: %s", strings.Join(connected, ", ")),
		})
	}
	if len(unavailable) > 0 {
		events = append(events, flow.NodeStatusEvent{
			StateChange: flow.NodeUnavailable,
			NodeNames:   unavailable,
			Message:     fmt.Sprintf("unavailable: %s", strings.Join(unavailable, ", ")),
		})
	}
	for _, event := range events {
		m.logger.Info("node connectivity changed",
			"state", event.StateChange.String(),
			"nodes", event.NodeNames,
		)
		if m.feed != nil {
			m.feed.Publish(event)
		}
	}
	return events
}
