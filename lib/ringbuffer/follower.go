// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ringbuffer

import (
	"context"
	"runtime"
)

// Read is one step of a Follower: either a record or a loss report.
// A loss report is always followed by the oldest record still
// retained.
type Read[T any] struct {
	Entry *Entry[T]
	Lost  uint64
}

// Follower reads a ring in sequence order from a starting point,
// waiting for new records once it catches up with the writer. A
// Follower is not safe for concurrent use; each reader owns one.
type Follower[T any] struct {
	ring *Ring[T]
	next uint64
}

// Follow returns a follower whose first record is from.
func (ring *Ring[T]) Follow(from uint64) *Follower[T] {
	return &Follower[T]{ring: ring, next: from}
}

// Position returns the sequence number of the next record the
// follower will yield.
func (follower *Follower[T]) Position() uint64 { return follower.next }

// Poll returns the next read without blocking. When nothing is
// available it returns ok=false and a channel that is closed by the
// next append, so callers can select on it alongside other events.
func (follower *Follower[T]) Poll() (read Read[T], ok bool, wake <-chan struct{}) {
	ring := follower.ring
	wake = ring.wakeChannel()
	for {
		head := ring.head.Load()
		if follower.next >= head {
			return Read[T]{}, false, wake
		}
		oldest := ring.oldestFor(head)
		if follower.next < oldest {
			lost := oldest - follower.next
			follower.next = oldest
			return Read[T]{Lost: lost}, true, nil
		}
		entry, found := ring.get(follower.next)
		if !found {
			// Overwritten after the head snapshot. The next pass
			// sees the advanced head and reports the loss.
			runtime.Gosched()
			continue
		}
		follower.next++
		return Read[T]{Entry: entry}, true, nil
	}
}

// Next blocks until a read is available or ctx is done.
func (follower *Follower[T]) Next(ctx context.Context) (Read[T], error) {
	for {
		read, ok, wake := follower.Poll()
		if ok {
			return read, nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return Read[T]{}, ctx.Err()
		}
	}
}
