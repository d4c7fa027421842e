// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"context"
	"io"
	"log/slog"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// State is a session's position in its lifecycle.
type State uint8

const (
	StateBackfilling State = iota
	StateLossPending
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBackfilling:
		return "backfilling"
	case StateLossPending:
		return "loss_pending"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SessionConfig configures a Session.
type SessionConfig[T any] struct {
	// Stream and Buffer label metrics and logs ("get_flows", "flows").
	Stream string
	Buffer string

	Plan *Plan[T]

	// Wrap converts a record into the delivered event. It sets the
	// variant and Time; the session stamps NodeName.
	Wrap func(*ringbuffer.Entry[T]) flow.Event

	NodeName string
	Clock    clock.Clock

	// EmitLoss delivers overruns as lost_events records. When false
	// they are only logged and counted.
	EmitLoss bool

	// Status, when set, is forwarded as node_status events while the
	// session is live.
	Status *Feed[flow.NodeStatusEvent]

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// pendingLoss is the loss a LossPending session is about to report.
type pendingLoss struct {
	source flow.LostEventSource
	buffer string
	count  uint64
}

// Session executes a Plan, producing one event per Next call.
//
// A session starts in Backfilling and replays the plan's history. A
// non-follow session closes with io.EOF when history is exhausted; a
// follow session moves to Live and tails the ring from the plan's live
// boundary, interleaving node status changes when a status feed is
// configured. Whenever either phase finds records overwritten before
// it could read them, the session passes through LossPending: the next
// event is a single lost_events record carrying exactly the number of
// records skipped, after which the session resumes the phase it left.
// Closed is terminal.
//
// Next and Close belong to one goroutine; cancel the context to
// interrupt a blocked Next.
type Session[T any] struct {
	config SessionConfig[T]
	state  State
	// resume is the state LossPending returns to.
	resume State

	scanner      scanner[T]
	backfillDone bool
	pending      []*ringbuffer.Entry[T]
	loss         pendingLoss

	follower *ringbuffer.Follower[T]
	status   *Subscription[flow.NodeStatusEvent]

	closeMetric func()
}

// NewSession starts a session in Backfilling.
func NewSession[T any](config SessionConfig[T]) *Session[T] {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	session := &Session[T]{
		config:      config,
		state:       StateBackfilling,
		scanner:     config.Plan.scanner(),
		closeMetric: config.Metrics.SessionOpened(config.Stream),
	}
	if config.Plan.Follow() && config.Status != nil {
		session.status = config.Status.Subscribe()
	}
	return session
}

// State returns the current state.
func (session *Session[T]) State() State { return session.state }

func (session *Session[T]) transition(to State) {
	from := session.state
	session.state = to
	if session.config.OnTransition != nil && from != to {
		session.config.OnTransition(from, to)
	}
}

// Next returns the next event. It returns io.EOF once a non-follow
// plan is exhausted, and ctx.Err() when ctx ends; both leave the
// session Closed. A follow session only closes through ctx or Close.
func (session *Session[T]) Next(ctx context.Context) (flow.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			session.Close()
			return flow.Event{}, err
		}

		switch session.state {
		case StateClosed:
			return flow.Event{}, io.EOF

		case StateLossPending:
			loss := session.loss
			session.loss = pendingLoss{}
			session.transition(session.resume)
			if session.config.EmitLoss {
				return session.deliver(flow.Event{
					LostEvents: &flow.LostEvent{
						Source:        loss.source,
						Buffer:        loss.buffer,
						NumEventsLost: loss.count,
					},
					Time: flow.Nanos(session.config.Clock.Now()),
				}), nil
			}

		case StateBackfilling:
			if len(session.pending) > 0 {
				entry := session.pending[0]
				session.pending = session.pending[1:]
				return session.deliver(session.config.Wrap(entry)), nil
			}
			if session.backfillDone {
				if !session.config.Plan.Follow() {
					session.Close()
					return flow.Event{}, io.EOF
				}
				session.follower = session.config.Plan.ring.Follow(session.config.Plan.LiveFrom())
				session.transition(StateLive)
				continue
			}
			step := session.scanner.next()
			session.pending = step.entries
			session.backfillDone = step.done
			if step.lost > 0 {
				session.lose(flow.LostSourceRingBuffer, session.config.Buffer, step.lost)
			}

		case StateLive:
			event, ok, err := session.live(ctx)
			if err != nil {
				session.Close()
				return flow.Event{}, err
			}
			if ok {
				return session.deliver(event), nil
			}
		}
	}
}

// live makes one attempt at producing a live event. ok=false means
// the caller should loop (a state change or a skipped record).
func (session *Session[T]) live(ctx context.Context) (flow.Event, bool, error) {
	if session.status != nil {
		if dropped := session.status.TakeDropped(); dropped > 0 {
			session.lose(flow.LostSourceEventsQueue, "node_status", dropped)
			return flow.Event{}, false, nil
		}
		select {
		case status, open := <-session.status.C():
			if open {
				return session.statusEvent(status), true, nil
			}
		default:
		}
	}

	read, ok, wake := session.follower.Poll()
	if ok {
		if read.Lost > 0 {
			session.lose(flow.LostSourceRingBuffer, session.config.Buffer, read.Lost)
			return flow.Event{}, false, nil
		}
		if !session.config.Plan.match(read.Entry) {
			return flow.Event{}, false, nil
		}
		return session.config.Wrap(read.Entry), true, nil
	}

	var statusChannel <-chan flow.NodeStatusEvent
	if session.status != nil {
		statusChannel = session.status.C()
	}
	select {
	case <-wake:
		return flow.Event{}, false, nil
	case status, open := <-statusChannel:
		if !open {
			return flow.Event{}, false, nil
		}
		return session.statusEvent(status), true, nil
	case <-ctx.Done():
		return flow.Event{}, false, ctx.Err()
	}
}

func (session *Session[T]) statusEvent(status flow.NodeStatusEvent) flow.Event {
	return flow.Event{
		NodeStatus: &status,
		Time:       flow.Nanos(session.config.Clock.Now()),
	}
}

// lose records an overrun and moves to LossPending.
func (session *Session[T]) lose(source flow.LostEventSource, buffer string, count uint64) {
	session.config.Metrics.EventsLost(buffer, "session", count)
	session.config.Logger.Debug("session overrun",
		"stream", session.config.Stream,
		"buffer", buffer,
		"lost", count,
		"state", session.state.String(),
	)
	session.loss = pendingLoss{source: source, buffer: buffer, count: count}
	session.resume = session.state
	session.transition(StateLossPending)
}

func (session *Session[T]) deliver(event flow.Event) flow.Event {
	event.NodeName = session.config.NodeName
	session.config.Metrics.EventSent(session.config.Stream, event.Kind().String())
	return event
}

// Close ends the session and releases its feed subscription. It is
// safe to call more than once.
func (session *Session[T]) Close() {
	if session.state == StateClosed {
		return
	}
	session.transition(StateClosed)
	if session.status != nil {
		session.status.Unsubscribe()
	}
	session.pending = nil
	session.follower = nil
	session.closeMetric()
}
