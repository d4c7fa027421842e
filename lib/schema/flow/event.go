// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import "fmt"

// EventKind names the variant held by an Event.
type EventKind uint8

const (
	KindInvalid EventKind = iota
	KindFlow
	KindNodeStatus
	KindLostEvents
	KindAgentEvent
	KindDebugEvent
)

func (k EventKind) String() string {
	switch k {
	case KindFlow:
		return "flow"
	case KindNodeStatus:
		return "node_status"
	case KindLostEvents:
		return "lost_events"
	case KindAgentEvent:
		return "agent_event"
	case KindDebugEvent:
		return "debug_event"
	case KindInvalid:
		return "invalid"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// NodeState is a node's connectivity as seen by a relay.
type NodeState uint8

const (
	NodeStateUnknown NodeState = iota
	NodeConnected
	NodeUnavailable
)

func (s NodeState) String() string {
	switch s {
	case NodeConnected:
		return "connected"
	case NodeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// NodeStatusEvent reports a connectivity change for one or more nodes.
type NodeStatusEvent struct {
	StateChange NodeState `json:"state_change"`
	NodeNames   []string  `json:"node_names"`
	Message     string    `json:"message,omitempty"`
}

// LostEventSource identifies where records were lost.
type LostEventSource uint8

const (
	LostSourceUnknown LostEventSource = iota
	// LostSourceRingBuffer: a reader fell more than the readable
	// window behind the writer and the records it wanted were
	// overwritten.
	LostSourceRingBuffer
	// LostSourceEventsQueue: a bounded fan-out queue (status feed,
	// export subscriber) was full and dropped events.
	LostSourceEventsQueue
)

func (s LostEventSource) String() string {
	switch s {
	case LostSourceRingBuffer:
		return "ring_buffer"
	case LostSourceEventsQueue:
		return "events_queue"
	default:
		return "unknown"
	}
}

// LostEvent tells a reader how many records it skipped. It is never
// stored in a ring buffer.
type LostEvent struct {
	Source LostEventSource `json:"source"`
	// Buffer names the affected buffer: "flows", "agent_events",
	// "debug_events", or a queue name.
	Buffer        string `json:"buffer,omitempty"`
	NumEventsLost uint64 `json:"num_events_lost"`
}

// Event is the tagged union delivered on every stream. Exactly one of
// the variant pointers is set; NodeName and Time tag the event with
// where and when it was observed.
type Event struct {
	Flow       *Flow            `json:"flow,omitempty"`
	NodeStatus *NodeStatusEvent `json:"node_status,omitempty"`
	LostEvents *LostEvent       `json:"lost_events,omitempty"`
	AgentEvent *AgentEvent      `json:"agent_event,omitempty"`
	DebugEvent *DebugEvent      `json:"debug_event,omitempty"`
	NodeName   string           `json:"node_name"`
	Time       int64            `json:"time"`
}

// Kind returns the variant, or KindInvalid when zero or several
// variants are set.
func (e *Event) Kind() EventKind {
	kind := KindInvalid
	set := 0
	if e.Flow != nil {
		kind, set = KindFlow, set+1
	}
	if e.NodeStatus != nil {
		kind, set = KindNodeStatus, set+1
	}
	if e.LostEvents != nil {
		kind, set = KindLostEvents, set+1
	}
	if e.AgentEvent != nil {
		kind, set = KindAgentEvent, set+1
	}
	if e.DebugEvent != nil {
		kind, set = KindDebugEvent, set+1
	}
	if set != 1 {
		return KindInvalid
	}
	return kind
}

// Validate checks the single-variant invariant.
func (e *Event) Validate() error {
	if e.Kind() == KindInvalid {
		return fmt.Errorf("event must carry exactly one of flow, node_status, lost_events, agent_event, debug_event")
	}
	return nil
}

// ExportEvent is the unit handed to export sinks. It carries every
// variant an Event can, fanned in from all sources.
type ExportEvent struct {
	Event
}

// Frame is one message on a streaming query action after the
// service.StreamAck.
//
//	Server → Client: Frame{Type: "event", Event: ...}   (repeated)
//	Server → Client: Frame{Type: "end"}                 (plan exhausted)
//	Server → Client: Frame{Type: "error", Error: "..."} (session failed)
type Frame struct {
	Type  string `json:"type"`
	Event *Event `json:"event,omitempty"`
	Error string `json:"error,omitempty"`
}

// Frame types.
const (
	FrameEvent = "event"
	FrameEnd   = "end"
	FrameError = "error"
)
