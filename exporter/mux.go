// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// Sink consumes the ordered export feed. Write and Flush are called
// from the goroutine running Multiplexer.Run.
type Sink interface {
	Write(event flow.ExportEvent) error
	// Flush is called once, after the final events, before Run
	// returns.
	Flush() error
}

// Config configures a Multiplexer.
type Config struct {
	// ReorderWindow is how long an event is held so that events from
	// slower sources with earlier timestamps can be ordered before it.
	// Zero releases events as soon as Run sees them.
	ReorderWindow time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// pending is one held event. key is the ordering timestamp: the
// event's time, raised to the watermark for late arrivals.
type pending struct {
	event   flow.ExportEvent
	key     int64
	arrival uint64
}

type pendingHeap []pending

func (h pendingHeap) Len() int { return len(h) }
func (h pendingHeap) Less(i, j int) bool {
	if h[i].key != h[j].key {
		return h[i].key < h[j].key
	}
	return h[i].arrival < h[j].arrival
}
func (h pendingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)   { *h = append(*h, x.(pending)) }
func (h *pendingHeap) Pop() any {
	old := *h
	last := old[len(old)-1]
	old[len(old)-1] = pending{}
	*h = old[:len(old)-1]
	return last
}

// Multiplexer orders events from many sources into one feed.
type Multiplexer struct {
	config Config

	mutex   sync.Mutex
	held    pendingHeap
	arrival uint64
	// watermark is the key of the last released event. Nothing with a
	// smaller key can be released after it.
	watermark int64
	late      uint64

	// notify has capacity 1; Publish signals it so Run re-evaluates
	// its release deadline.
	notify chan struct{}
}

// NewMultiplexer returns an idle Multiplexer. Events published before
// Run starts are held.
func NewMultiplexer(config Config) *Multiplexer {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Multiplexer{
		config: config,
		notify: make(chan struct{}, 1),
	}
}

// Publish adds an event. Safe for concurrent use; never blocks on the
// sink.
func (m *Multiplexer) Publish(event flow.ExportEvent) {
	m.mutex.Lock()
	key := event.Time
	if key < m.watermark {
		key = m.watermark
		m.late++
		m.config.Metrics.ExportLate()
	}
	heap.Push(&m.held, pending{event: event, key: key, arrival: m.arrival})
	m.arrival++
	m.mutex.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Held returns the number of events waiting for release.
func (m *Multiplexer) Held() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.held)
}

// Late returns how many events arrived behind the watermark.
func (m *Multiplexer) Late() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.late
}

// take pops every event whose key is at or before cutoff, advancing
// the watermark. It also returns the key of the next held event.
func (m *Multiplexer) take(cutoff int64, all bool) (released []flow.ExportEvent, nextKey int64, more bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for len(m.held) > 0 && (all || m.held[0].key <= cutoff) {
		item := heap.Pop(&m.held).(pending)
		m.watermark = item.key
		released = append(released, item.event)
	}
	if len(m.held) > 0 {
		return released, m.held[0].key, true
	}
	return released, 0, false
}

// Run releases events to sink until ctx is done, then writes out
// everything still held and returns. A sink error stops Run.
func (m *Multiplexer) Run(ctx context.Context, sink Sink) error {
	window := m.config.ReorderWindow
	for {
		cutoff := flow.Nanos(m.config.Clock.Now().Add(-window))
		released, nextKey, more := m.take(cutoff, false)
		if err := m.write(sink, released); err != nil {
			return err
		}

		var due <-chan time.Time
		if more {
			wait := time.Duration(nextKey - cutoff)
			due = m.config.Clock.After(wait)
		}
		select {
		case <-ctx.Done():
			released, _, _ := m.take(0, true)
			if err := m.write(sink, released); err != nil {
				return err
			}
			if err := sink.Flush(); err != nil {
				return fmt.Errorf("flushing export sink: %w", err)
			}
			return nil
		case <-m.notify:
		case <-due:
		}
	}
}

func (m *Multiplexer) write(sink Sink, events []flow.ExportEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		if err := sink.Write(event); err != nil {
			return fmt.Errorf("writing export event: %w", err)
		}
		m.config.Metrics.ExportEvent(event.Kind().String())
	}
	return nil
}
