// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/testutil"
)

func TestBackfillOverrunReportsLossOnce(t *testing.T) {
	t.Parallel()
	// Capacity 100 with the default guard: 150 appends leave 60..149
	// readable.
	ring := newIntRing(t, 100)
	fillInts(ring, 0, 150)

	session := intSession(t, ring, Request{}, nil)
	// The writer laps the session's cursor (60) before it reads.
	fillInts(ring, 150, 50)

	got := drain(t, session)
	if len(got) == 0 || got[0] != -50 {
		t.Fatalf("first event: got %v, want lost_events(50)", got)
	}
	if got[1] != 110 {
		t.Fatalf("first record after loss: got %d, want 110", got[1])
	}
	want := make([]int, 0, 40)
	for value := 110; value < 150; value++ {
		want = append(want, value)
	}
	if !slices.Equal(got[1:], want) {
		t.Fatalf("records after loss: got %v, want %v", got[1:], want)
	}
}

func TestSessionTagsEvents(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10)
	fillInts(ring, 0, 1)

	session := intSession(t, ring, Request{}, nil)
	event, err := session.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.NodeName != "node-a" {
		t.Errorf("NodeName: got %q, want %q", event.NodeName, "node-a")
	}
	if event.Time != 1000 {
		t.Errorf("Time: got %d, want 1000", event.Time)
	}
	if _, err := session.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after last record: got %v, want io.EOF", err)
	}
	if session.State() != StateClosed {
		t.Fatalf("State after EOF: got %s, want closed", session.State())
	}
}

func TestSessionTransitions(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 100)
	fillInts(ring, 0, 150)

	var transitions []string
	session := intSession(t, ring, Request{Number: 5, First: true}, nil, func(config *SessionConfig[int]) {
		config.OnTransition = func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		}
	})
	fillInts(ring, 150, 50)
	drain(t, session)

	want := []string{"backfilling>loss_pending", "loss_pending>backfilling", "backfilling>closed"}
	if !slices.Equal(transitions, want) {
		t.Fatalf("transitions: got %v, want %v", transitions, want)
	}
}

func TestLossWithoutEmission(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 100)
	fillInts(ring, 0, 150)

	session := intSession(t, ring, Request{}, nil, func(config *SessionConfig[int]) {
		config.EmitLoss = false
	})
	fillInts(ring, 150, 50)

	got := drain(t, session)
	if len(got) != 40 || got[0] != 110 {
		t.Fatalf("records: got %d starting %v, want 40 starting at 110", len(got), got[:min(len(got), 1)])
	}
}

func TestFollowSessionOnlyClosesOnCancel(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 100)
	fillInts(ring, 0, 3)

	var mutex sync.Mutex
	var states []State
	session := intSession(t, ring, Request{Number: 2, Follow: true}, nil, func(config *SessionConfig[int]) {
		config.OnTransition = func(_, to State) {
			mutex.Lock()
			states = append(states, to)
			mutex.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		value int
		err   error
	}
	results := make(chan result)
	go func() {
		for {
			event, err := session.Next(ctx)
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{value: int(event.DebugEvent.CPU)}
		}
	}()

	for _, want := range []int{1, 2} {
		got := testutil.RequireReceive(t, results, 5*time.Second, "backfill record")
		if got.err != nil || got.value != want {
			t.Fatalf("backfill: got %+v, want %d", got, want)
		}
	}

	// Live records are delivered as they arrive.
	for value := 3; value < 6; value++ {
		ring.Append(int64(1000+value), value)
		got := testutil.RequireReceive(t, results, 5*time.Second, "live record")
		if got.err != nil || got.value != value {
			t.Fatalf("live: got %+v, want %d", got, value)
		}
	}

	mutex.Lock()
	for _, state := range states {
		if state == StateClosed {
			t.Fatal("follow session closed without cancellation")
		}
	}
	mutex.Unlock()

	cancel()
	got := testutil.RequireReceive(t, results, 5*time.Second, "cancellation")
	if !errors.Is(got.err, context.Canceled) {
		t.Fatalf("Next after cancel: got %v, want context.Canceled", got.err)
	}
	if session.State() != StateClosed {
		t.Fatalf("State after cancel: got %s, want closed", session.State())
	}
}

func TestLiveOverrun(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10, ringbuffer.WithGuard(1))

	session := intSession(t, ring, Request{Follow: true}, nil)
	// Window is 9: after 30 appends the oldest readable record is 21.
	fillInts(ring, 0, 30)

	ctx := context.Background()
	event, err := session.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Kind() != flow.KindLostEvents || event.LostEvents.NumEventsLost != 21 {
		t.Fatalf("first live event: got %+v, want lost_events(21)", event)
	}
	if event.LostEvents.Source != flow.LostSourceRingBuffer || event.LostEvents.Buffer != "ints" {
		t.Errorf("lost event source: got %s/%s, want ring_buffer/ints", event.LostEvents.Source, event.LostEvents.Buffer)
	}
	event, err = session.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got := int(event.DebugEvent.CPU); got != 21 {
		t.Fatalf("first record after loss: got %d, want 21", got)
	}
	if session.State() != StateLive {
		t.Fatalf("State: got %s, want live", session.State())
	}
	session.Close()
}

func TestLiveForwardsStatusFeed(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10)
	feed := NewFeed[flow.NodeStatusEvent](1)
	fake := clock.Fake(time.Unix(0, 5000))

	session := intSession(t, ring, Request{Follow: true}, nil, func(config *SessionConfig[int]) {
		config.Status = feed
		config.Clock = fake
	})
	if feed.Subscribers() != 1 {
		t.Fatalf("Subscribers: got %d, want 1", feed.Subscribers())
	}

	feed.Publish(flow.NodeStatusEvent{StateChange: flow.NodeUnavailable, NodeNames: []string{"node-b"}})
	// The queue holds one event; these two are dropped.
	feed.Publish(flow.NodeStatusEvent{StateChange: flow.NodeConnected, NodeNames: []string{"node-b"}})
	feed.Publish(flow.NodeStatusEvent{StateChange: flow.NodeUnavailable, NodeNames: []string{"node-b"}})

	ctx := context.Background()
	event, err := session.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Kind() != flow.KindLostEvents || event.LostEvents.Source != flow.LostSourceEventsQueue || event.LostEvents.NumEventsLost != 2 {
		t.Fatalf("first event: got %+v, want events_queue loss of 2", event)
	}
	event, err = session.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Kind() != flow.KindNodeStatus || event.NodeStatus.StateChange != flow.NodeUnavailable {
		t.Fatalf("second event: got %+v, want node_status unavailable", event)
	}
	if event.Time != 5000 || event.NodeName != "node-a" {
		t.Errorf("status event tags: got time=%d node=%q, want 5000 node-a", event.Time, event.NodeName)
	}

	session.Close()
	if feed.Subscribers() != 0 {
		t.Fatalf("Subscribers after Close: got %d, want 0", feed.Subscribers())
	}
	session.Close()
}

func TestNextAfterCloseReturnsEOF(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10)
	fillInts(ring, 0, 3)

	session := intSession(t, ring, Request{Follow: true}, nil)
	session.Close()
	if _, err := session.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Next after Close: got %v, want io.EOF", err)
	}
}

// nextValue reads one event and encodes it the way drain does.
func nextValue(t *testing.T, session *Session[int]) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	event, err := session.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	switch event.Kind() {
	case flow.KindDebugEvent:
		return int(event.DebugEvent.CPU)
	case flow.KindLostEvents:
		return -int(event.LostEvents.NumEventsLost)
	}
	t.Fatalf("unexpected event kind %s", event.Kind())
	return 0
}

func TestFollowBackfillOverrunSplitsLossAtLiveBoundary(t *testing.T) {
	t.Parallel()
	// Window is 9: the nine records are all retained when the plan
	// resolves, so history is 0..8 and live starts at 9.
	ring := newIntRing(t, 10, ringbuffer.WithGuard(1))
	fillInts(ring, 0, 9)

	var transitions []string
	session := intSession(t, ring, Request{Follow: true, Since: 1}, nil, func(config *SessionConfig[int]) {
		config.OnTransition = func(from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		}
	})
	defer session.Close()

	// The writer laps everything before the first read: 0..99 are
	// gone and 100..108 remain.
	fillInts(ring, 9, 100)

	var got []int
	for range 11 {
		got = append(got, nextValue(t, session))
	}
	want := []int{-9, -91, 100, 101, 102, 103, 104, 105, 106, 107, 108}
	if !slices.Equal(got, want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	if lost := -(got[0] + got[1]); lost != 100 {
		t.Errorf("total reported loss: got %d, want 100 skipped records", lost)
	}
	wantTransitions := []string{
		"backfilling>loss_pending",
		"loss_pending>backfilling",
		"backfilling>live",
		"live>loss_pending",
		"loss_pending>live",
	}
	if !slices.Equal(transitions, wantTransitions) {
		t.Errorf("transitions: got %v, want %v", transitions, wantTransitions)
	}
}

func TestBackfillLossNeverExceedsHistory(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10, ringbuffer.WithGuard(1))
	fillInts(ring, 0, 5)

	session := intSession(t, ring, Request{}, nil)
	fillInts(ring, 5, 100)

	got := drain(t, session)
	if want := []int{-5}; !slices.Equal(got, want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
}

func TestOverwriteBetweenPlanAndSessionIsReported(t *testing.T) {
	t.Parallel()
	ring := newIntRing(t, 10, ringbuffer.WithGuard(1))
	fillInts(ring, 0, 5)

	plan, err := NewPlan(ring, Request{}, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	// Records 0..4 are overwritten after the plan resolved but before
	// the session opened.
	fillInts(ring, 5, 100)

	session := NewSession(SessionConfig[int]{
		Stream: "test",
		Buffer: "ints",
		Plan:   plan,
		Wrap: func(entry *ringbuffer.Entry[int]) flow.Event {
			return flow.Event{DebugEvent: &flow.DebugEvent{CPU: int32(entry.Value)}, Time: entry.Time}
		},
		EmitLoss: true,
	})
	got := drain(t, session)
	if want := []int{-5}; !slices.Equal(got, want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
}

func TestFollowAccountsForEveryRecordUnderConcurrentWrites(t *testing.T) {
	t.Parallel()
	const total = 20000
	for _, guard := range []int{0, 1} {
		ring := newIntRing(t, 16, ringbuffer.WithGuard(guard))
		fillInts(ring, 0, 8)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			fillInts(ring, 8, total-8)
		}()

		session := intSession(t, ring, Request{Follow: true, Since: 1}, nil)
		// Every sequence number from the plan's start onward is either
		// delivered in order or covered by exactly one lost count.
		expected := int(session.config.Plan.start)
		for expected < total {
			value := nextValue(t, session)
			if value < 0 {
				expected += -value
				continue
			}
			if value != expected {
				t.Fatalf("guard %d: got record %d, want %d", guard, value, expected)
			}
			expected++
		}
		if expected != total {
			t.Fatalf("guard %d: delivered plus lost reached %d, want %d", guard, expected, total)
		}
		session.Close()
		wg.Wait()
	}
}
