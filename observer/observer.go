// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/filter"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// Buffer names used in lost_events records, metrics, and logs.
const (
	BufferFlows       = "flows"
	BufferAgentEvents = "agent_events"
	BufferDebugEvents = "debug_events"
)

// Stream names used as metric labels.
const (
	StreamFlows       = "get_flows"
	StreamAgentEvents = "get_agent_events"
	StreamDebugEvents = "get_debug_events"
)

// Config holds an Observer's collaborators. Flows, AgentEvents, and
// DebugEvents are required.
type Config struct {
	NodeName string
	Version  string
	Address  string
	TLS      *flow.TLS

	Flows       *ringbuffer.Ring[*flow.Flow]
	AgentEvents *ringbuffer.Ring[*flow.AgentEvent]
	DebugEvents *ringbuffer.Ring[*flow.DebugEvent]

	// Status carries node connectivity changes to live flow sessions.
	// Nil disables node_status passthrough.
	Status *Feed[flow.NodeStatusEvent]

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Observer serves one node's buffers.
type Observer struct {
	config    Config
	startedAt time.Time
}

// New creates an Observer. The start time used for uptime is captured
// here.
func New(config Config) (*Observer, error) {
	if config.Flows == nil || config.AgentEvents == nil || config.DebugEvents == nil {
		return nil, errors.New("observer: flow, agent event, and debug event rings are required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Observer{config: config, startedAt: config.Clock.Now()}, nil
}

// NodeName returns the name stamped on every event this node serves.
func (o *Observer) NodeName() string { return o.config.NodeName }

// Status returns the node status feed (may be nil).
func (o *Observer) Status() *Feed[flow.NodeStatusEvent] { return o.config.Status }

// Flows returns the flow ring.
func (o *Observer) Flows() *ringbuffer.Ring[*flow.Flow] { return o.config.Flows }

// AgentEvents returns the agent event ring.
func (o *Observer) AgentEvents() *ringbuffer.Ring[*flow.AgentEvent] { return o.config.AgentEvents }

// DebugEvents returns the debug event ring.
func (o *Observer) DebugEvents() *ringbuffer.Ring[*flow.DebugEvent] { return o.config.DebugEvents }

// OpenFlows validates request and starts a flow session. All
// validation happens here: a returned error wraps ErrInvalidRequest
// and no session exists.
func (o *Observer) OpenFlows(request flow.GetFlowsRequest) (*Session[*flow.Flow], error) {
	engine, err := filter.Build(request.Whitelist, request.Blacklist)
	if err != nil {
		o.config.Metrics.RequestRejected(StreamFlows)
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	var mask flow.FieldMask
	if request.Experimental != nil {
		mask, err = flow.ParseFieldMask(request.Experimental.FieldMask)
		if err != nil {
			o.config.Metrics.RequestRejected(StreamFlows)
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
	}

	var match func(*flow.Flow) bool
	if !engine.Empty() {
		match = engine.Match
	}
	plan, err := NewPlan(o.config.Flows, Request{
		Number: request.Number,
		First:  request.First,
		Follow: request.Follow,
		Since:  request.Since,
		Until:  request.Until,
	}, match)
	if err != nil {
		o.config.Metrics.RequestRejected(StreamFlows)
		return nil, err
	}

	return NewSession(SessionConfig[*flow.Flow]{
		Stream: StreamFlows,
		Buffer: BufferFlows,
		Plan:   plan,
		Wrap: func(entry *ringbuffer.Entry[*flow.Flow]) flow.Event {
			return flow.Event{Flow: mask.Apply(entry.Value), Time: entry.Time}
		},
		NodeName: o.config.NodeName,
		Clock:    o.config.Clock,
		EmitLoss: true,
		Status:   o.config.Status,
		Logger:   o.config.Logger.With("stream", StreamFlows),
		Metrics:  o.config.Metrics,
	}), nil
}

// OpenAgentEvents validates request and starts an agent event session.
func (o *Observer) OpenAgentEvents(request flow.GetAgentEventsRequest) (*Session[*flow.AgentEvent], error) {
	plan, err := NewPlan[*flow.AgentEvent](o.config.AgentEvents, Request{
		Number: request.Number,
		First:  request.First,
		Follow: request.Follow,
		Since:  request.Since,
		Until:  request.Until,
	}, nil)
	if err != nil {
		o.config.Metrics.RequestRejected(StreamAgentEvents)
		return nil, err
	}
	return NewSession(SessionConfig[*flow.AgentEvent]{
		Stream: StreamAgentEvents,
		Buffer: BufferAgentEvents,
		Plan:   plan,
		Wrap: func(entry *ringbuffer.Entry[*flow.AgentEvent]) flow.Event {
			return flow.Event{AgentEvent: entry.Value, Time: entry.Time}
		},
		NodeName: o.config.NodeName,
		Clock:    o.config.Clock,
		Logger:   o.config.Logger.With("stream", StreamAgentEvents),
		Metrics:  o.config.Metrics,
	}), nil
}

// OpenDebugEvents validates request and starts a debug event session.
func (o *Observer) OpenDebugEvents(request flow.GetDebugEventsRequest) (*Session[*flow.DebugEvent], error) {
	plan, err := NewPlan[*flow.DebugEvent](o.config.DebugEvents, Request{
		Number: request.Number,
		First:  request.First,
		Follow: request.Follow,
		Since:  request.Since,
		Until:  request.Until,
	}, nil)
	if err != nil {
		o.config.Metrics.RequestRejected(StreamDebugEvents)
		return nil, err
	}
	return NewSession(SessionConfig[*flow.DebugEvent]{
		Stream: StreamDebugEvents,
		Buffer: BufferDebugEvents,
		Plan:   plan,
		Wrap: func(entry *ringbuffer.Entry[*flow.DebugEvent]) flow.Event {
			return flow.Event{DebugEvent: entry.Value, Time: entry.Time}
		},
		NodeName: o.config.NodeName,
		Clock:    o.config.Clock,
		Logger:   o.config.Logger.With("stream", StreamDebugEvents),
		Metrics:  o.config.Metrics,
	}), nil
}

// Uptime returns the time since New.
func (o *Observer) Uptime() time.Duration {
	return o.config.Clock.Now().Sub(o.startedAt)
}

// ServerStatus reports this node's flow counters. Node counts are left
// nil; only relays fill them.
func (o *Observer) ServerStatus() flow.ServerStatusResponse {
	flows := o.config.Flows
	return flow.ServerStatusResponse{
		NumFlows:  flows.Len(),
		MaxFlows:  uint64(flows.Cap()),
		SeenFlows: flows.Seen(),
		UptimeNS:  uint64(o.Uptime()),
		Version:   o.config.Version,
	}
}

// Node reports this node as a connected Node.
func (o *Observer) Node() flow.Node {
	status := o.ServerStatus()
	return flow.Node{
		Name:      o.config.NodeName,
		Version:   o.config.Version,
		Address:   o.config.Address,
		State:     flow.NodeConnected,
		TLS:       o.config.TLS,
		UptimeNS:  status.UptimeNS,
		NumFlows:  status.NumFlows,
		MaxFlows:  status.MaxFlows,
		SeenFlows: status.SeenFlows,
	}
}

// Ingest appends a batch from the capture pipeline. The whole batch is
// validated first: a batch with any invalid event appends nothing.
// Only flow, agent, and debug events are accepted. Flows without a
// UUID get one, and every flow is stamped with this node's name.
func (o *Observer) Ingest(batch flow.IngestBatch) (int, error) {
	for index := range batch.Events {
		event := &batch.Events[index]
		switch event.Kind() {
		case flow.KindFlow, flow.KindAgentEvent, flow.KindDebugEvent:
		case flow.KindInvalid:
			return 0, fmt.Errorf("%w: batch %d event %d: %w", ErrInvalidRequest, batch.Sequence, index, event.Validate())
		default:
			return 0, invalidf("batch %d event %d: %s events cannot be ingested", batch.Sequence, index, event.Kind())
		}
	}

	now := flow.Nanos(o.config.Clock.Now())
	for index := range batch.Events {
		event := &batch.Events[index]
		timestamp := event.Time
		switch event.Kind() {
		case flow.KindFlow:
			record := *event.Flow
			if record.UUID == "" {
				record.UUID = uuid.NewString()
			}
			record.NodeName = o.config.NodeName
			if timestamp == 0 {
				timestamp = record.Time
			}
			if timestamp == 0 {
				timestamp = now
			}
			record.Time = timestamp
			o.config.Flows.Append(timestamp, &record)
			o.config.Metrics.BufferAppended(BufferFlows)
		case flow.KindAgentEvent:
			if timestamp == 0 {
				timestamp = now
			}
			o.config.AgentEvents.Append(timestamp, event.AgentEvent)
			o.config.Metrics.BufferAppended(BufferAgentEvents)
		case flow.KindDebugEvent:
			if timestamp == 0 {
				timestamp = now
			}
			o.config.DebugEvents.Append(timestamp, event.DebugEvent)
			o.config.Metrics.BufferAppended(BufferDebugEvents)
		}
	}
	return len(batch.Events), nil
}
