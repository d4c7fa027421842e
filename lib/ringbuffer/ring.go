// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ringbuffer

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Entry is one stored record. Entries are immutable once published;
// readers may hold on to them after the slot is overwritten.
type Entry[T any] struct {
	Seq uint64
	// Time is the record's own timestamp in Unix nanoseconds. It is
	// not required to be monotonic across sequence numbers.
	Time  int64
	Value T
}

// Direction selects the scan order of ReadRange.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// ReadResult is the outcome of one ReadRange call.
type ReadResult[T any] struct {
	// Entries are in scan order: ascending for Forward, descending
	// for Backward.
	Entries []*Entry[T]
	// Next is the sequence number to pass to the following ReadRange
	// call to continue the scan.
	Next uint64
	// Lost counts records between the requested start and Entries[0]
	// that were overwritten before they could be read.
	Lost uint64
	// Truncated is set when the scan ran into overwritten records.
	Truncated bool
	// Done is set when there is nothing further in this direction:
	// a forward scan reached the head, a backward scan reached the
	// oldest retained record.
	Done bool
}

// Ring is a fixed-capacity ring of records addressed by a
// monotonically increasing sequence number. Record N lives in slot
// N % capacity until the writer wraps around and replaces it with
// record N + capacity.
//
// Readers never take the writer's lock. Each slot holds an immutable
// *Entry published with an atomic store, and the head (the sequence
// number the next Append will assign) is published after the slot.
// A reader that snapshots the head therefore sees every record below
// it, unless the writer has since lapped that record. The guard keeps
// the newest capacity - window slots out of the readable range so a
// reader working near the oldest record is less likely to race the
// writer for the same slot.
//
// Overruns are never silent: every read path that skips records
// because they were overwritten reports exactly how many it skipped.
//
// Append serializes internally, but sequence numbers reflect call
// order, so a single producer is the expected use. All read methods
// are safe for concurrent use.
type Ring[T any] struct {
	slots []atomic.Pointer[Entry[T]]
	// window is the number of readable records: capacity - guard.
	window uint64

	writeMutex sync.Mutex
	// head is the sequence number the next Append will use, which is
	// also the total number of records ever appended.
	head atomic.Uint64

	notifyMutex sync.Mutex
	notify      chan struct{}
	waiting     bool
}

// Option configures a Ring.
type Option func(*options)

type options struct {
	guard    int
	guardSet bool
}

// WithGuard sets the number of slots behind the writer that readers
// never see. The default is a tenth of the capacity.
func WithGuard(slots int) Option {
	return func(o *options) {
		o.guard = slots
		o.guardSet = true
	}
}

// New creates a ring with the given number of slots.
func New[T any](capacity int, opts ...Option) (*Ring[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("ring buffer capacity must be positive, got %d", capacity)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	guard := capacity / 10
	if o.guardSet {
		guard = o.guard
	}
	if guard < 0 || guard >= capacity {
		return nil, fmt.Errorf("ring buffer guard %d must be in [0, %d)", guard, capacity)
	}
	return &Ring[T]{
		slots:  make([]atomic.Pointer[Entry[T]], capacity),
		window: uint64(capacity - guard),
		notify: make(chan struct{}),
	}, nil
}

// Append stores value with the given timestamp and returns its
// sequence number. Blocked followers are woken.
func (ring *Ring[T]) Append(timestamp int64, value T) uint64 {
	ring.writeMutex.Lock()
	seq := ring.head.Load()
	ring.slots[seq%uint64(len(ring.slots))].Store(&Entry[T]{Seq: seq, Time: timestamp, Value: value})
	ring.head.Store(seq + 1)
	ring.writeMutex.Unlock()

	ring.notifyMutex.Lock()
	if ring.waiting {
		close(ring.notify)
		ring.notify = make(chan struct{})
		ring.waiting = false
	}
	ring.notifyMutex.Unlock()
	return seq
}

// wakeChannel returns a channel closed by the next Append. Callers
// must fetch it before checking the head so an append landing between
// the check and the wait is not missed.
func (ring *Ring[T]) wakeChannel() <-chan struct{} {
	ring.notifyMutex.Lock()
	defer ring.notifyMutex.Unlock()
	ring.waiting = true
	return ring.notify
}

// Cap returns the number of slots.
func (ring *Ring[T]) Cap() int { return len(ring.slots) }

// Window returns the maximum number of readable records.
func (ring *Ring[T]) Window() uint64 { return ring.window }

// Head returns the sequence number the next Append will assign.
func (ring *Ring[T]) Head() uint64 { return ring.head.Load() }

// Seen returns the total number of records ever appended.
func (ring *Ring[T]) Seen() uint64 { return ring.head.Load() }

// Len returns the number of currently readable records.
func (ring *Ring[T]) Len() uint64 {
	head := ring.head.Load()
	return head - ring.oldestFor(head)
}

// Oldest returns the sequence number of the oldest readable record.
// When the ring is empty it returns 0.
func (ring *Ring[T]) Oldest() uint64 {
	return ring.oldestFor(ring.head.Load())
}

// Bounds returns the oldest readable record and the head from a
// single head snapshot, so the two are consistent with each other.
func (ring *Ring[T]) Bounds() (oldest, head uint64) {
	head = ring.head.Load()
	return ring.oldestFor(head), head
}

// Newest returns the sequence number of the most recent record, and
// false when nothing has been appended.
func (ring *Ring[T]) Newest() (uint64, bool) {
	head := ring.head.Load()
	if head == 0 {
		return 0, false
	}
	return head - 1, true
}

func (ring *Ring[T]) oldestFor(head uint64) uint64 {
	if head <= ring.window {
		return 0
	}
	return head - ring.window
}

// get returns the entry for seq if its slot still holds it.
func (ring *Ring[T]) get(seq uint64) (*Entry[T], bool) {
	entry := ring.slots[seq%uint64(len(ring.slots))].Load()
	if entry == nil || entry.Seq != seq {
		return nil, false
	}
	return entry, true
}

// ReadRange returns up to limit records starting at from, scanning in
// the given direction. A limit of zero or less means no limit.
//
// Forward scans begin at from (or the oldest retained record if from
// has already been overwritten, with the difference reported in Lost)
// and stop at the head observed when the call started.
//
// Backward scans begin at from (clamped to the newest record) and walk
// toward the oldest retained record.
func (ring *Ring[T]) ReadRange(from uint64, limit int, direction Direction) ReadResult[T] {
	if direction == Backward {
		return ring.readBackward(from, limit)
	}
	return ring.readForward(from, limit)
}

func (ring *Ring[T]) readForward(from uint64, limit int) ReadResult[T] {
	var result ReadResult[T]
	head := ring.head.Load()
	oldest := ring.oldestFor(head)
	if from < oldest {
		result.Lost = oldest - from
		result.Truncated = true
		from = oldest
	}

	seq := from
	for seq < head && (limit <= 0 || len(result.Entries) < limit) {
		entry, ok := ring.get(seq)
		if !ok {
			// The writer lapped us mid-scan. Report the gap at
			// the start of the next call so Lost always precedes
			// Entries.
			if len(result.Entries) > 0 {
				break
			}
			// With no guard the writer can replace seq's slot
			// before it publishes the head that moves oldest past
			// seq. Wait for that head rather than return an empty
			// read that looks like a clean stop.
			current := ring.oldestFor(ring.head.Load())
			for current <= seq {
				runtime.Gosched()
				current = ring.oldestFor(ring.head.Load())
			}
			result.Lost += current - seq
			result.Truncated = true
			seq = current
			head = ring.head.Load()
			continue
		}
		result.Entries = append(result.Entries, entry)
		seq++
	}
	result.Next = seq
	result.Done = seq >= head
	return result
}

func (ring *Ring[T]) readBackward(from uint64, limit int) ReadResult[T] {
	var result ReadResult[T]
	head := ring.head.Load()
	if head == 0 {
		result.Done = true
		return result
	}
	oldest := ring.oldestFor(head)
	if from >= head {
		from = head - 1
	}
	if from < oldest {
		result.Lost = oldest - from
		result.Truncated = true
		result.Done = true
		result.Next = from
		return result
	}

	seq := from
	for {
		if limit > 0 && len(result.Entries) >= limit {
			result.Next = seq
			return result
		}
		entry, ok := ring.get(seq)
		if !ok {
			// Everything at or below seq has been overwritten.
			result.Truncated = true
			result.Done = true
			result.Next = seq
			return result
		}
		result.Entries = append(result.Entries, entry)
		if seq == oldest {
			result.Done = true
			result.Next = seq
			return result
		}
		seq--
	}
}
