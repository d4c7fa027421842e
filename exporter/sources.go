// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"context"
	"sync"

	"github.com/bureau-foundation/flowscope/lib/filter"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/observer"
)

// Sources are the event sources of one node. Nil sources are skipped.
type Sources struct {
	NodeName string

	Flows       *ringbuffer.Ring[*flow.Flow]
	AgentEvents *ringbuffer.Ring[*flow.AgentEvent]
	DebugEvents *ringbuffer.Ring[*flow.DebugEvent]
	Status      *observer.Feed[flow.NodeStatusEvent]

	// Filter selects which flows are exported. Nil exports all.
	Filter *filter.Engine
}

// Attach follows every source from its current head and publishes
// what it reads until ctx is done. Ring overruns are published as
// lost_events. The returned function waits for the source goroutines
// to exit.
func (m *Multiplexer) Attach(ctx context.Context, sources Sources) (wait func()) {
	var group sync.WaitGroup
	start := func(run func()) {
		group.Add(1)
		go func() {
			defer group.Done()
			run()
		}()
	}

	// Followers start at each ring's head now, so nothing appended
	// after Attach returns is missed.
	if sources.Flows != nil {
		follower := sources.Flows.Follow(sources.Flows.Head())
		start(func() {
			follow(ctx, m, sources.NodeName, observer.BufferFlows, follower, func(entry *ringbuffer.Entry[*flow.Flow]) (flow.Event, bool) {
				if !sources.Filter.Match(entry.Value) {
					return flow.Event{}, false
				}
				return flow.Event{Flow: entry.Value, Time: entry.Time}, true
			})
		})
	}
	if sources.AgentEvents != nil {
		follower := sources.AgentEvents.Follow(sources.AgentEvents.Head())
		start(func() {
			follow(ctx, m, sources.NodeName, observer.BufferAgentEvents, follower, func(entry *ringbuffer.Entry[*flow.AgentEvent]) (flow.Event, bool) {
				return flow.Event{AgentEvent: entry.Value, Time: entry.Time}, true
			})
		})
	}
	if sources.DebugEvents != nil {
		follower := sources.DebugEvents.Follow(sources.DebugEvents.Head())
		start(func() {
			follow(ctx, m, sources.NodeName, observer.BufferDebugEvents, follower, func(entry *ringbuffer.Entry[*flow.DebugEvent]) (flow.Event, bool) {
				return flow.Event{DebugEvent: entry.Value, Time: entry.Time}, true
			})
		})
	}
	if sources.Status != nil {
		subscription := sources.Status.Subscribe()
		start(func() {
			defer subscription.Unsubscribe()
			m.forwardStatus(ctx, sources.NodeName, subscription)
		})
	}
	return group.Wait
}

// follow publishes every record follower yields until ctx is done.
func follow[T any](ctx context.Context, m *Multiplexer, nodeName, buffer string, follower *ringbuffer.Follower[T], wrap func(*ringbuffer.Entry[T]) (flow.Event, bool)) {
	for {
		read, err := follower.Next(ctx)
		if err != nil {
			return
		}
		if read.Lost > 0 {
			m.config.Metrics.EventsLost(buffer, "export", read.Lost)
			m.config.Logger.Warn("exporter overrun", "buffer", buffer, "lost", read.Lost)
			m.Publish(m.lostEvent(nodeName, flow.LostSourceRingBuffer, buffer, read.Lost))
			continue
		}
		event, ok := wrap(read.Entry)
		if !ok {
			continue
		}
		event.NodeName = nodeName
		m.Publish(flow.ExportEvent{Event: event})
	}
}

func (m *Multiplexer) forwardStatus(ctx context.Context, nodeName string, subscription *observer.Subscription[flow.NodeStatusEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case status, ok := <-subscription.C():
			if !ok {
				return
			}
			if dropped := subscription.TakeDropped(); dropped > 0 {
				m.Publish(m.lostEvent(nodeName, flow.LostSourceEventsQueue, "node_status", dropped))
			}
			m.Publish(flow.ExportEvent{Event: flow.Event{
				NodeStatus: &status,
				NodeName:   nodeName,
				Time:       flow.Nanos(m.config.Clock.Now()),
			}})
		}
	}
}

func (m *Multiplexer) lostEvent(nodeName string, source flow.LostEventSource, buffer string, count uint64) flow.ExportEvent {
	return flow.ExportEvent{Event: flow.Event{
		LostEvents: &flow.LostEvent{Source: source, Buffer: buffer, NumEventsLost: count},
		NodeName:   nodeName,
		Time:       flow.Nanos(m.config.Clock.Now()),
	}}
}
