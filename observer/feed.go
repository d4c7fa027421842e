// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"sync"
	"sync/atomic"
)

// DefaultFeedBuffer is the per-subscriber queue length.
const DefaultFeedBuffer = 64

// Feed broadcasts values to any number of subscribers. Publish never
// blocks: a subscriber whose queue is full misses the value, and the
// miss is counted on its Subscription.
type Feed[T any] struct {
	mutex       sync.RWMutex
	subscribers map[*Subscription[T]]struct{}
	buffer      int
}

// NewFeed creates a feed whose subscribers each queue up to buffer
// values. buffer <= 0 selects DefaultFeedBuffer.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
		buffer:      buffer,
	}
}

// Subscription is one subscriber's view of a Feed.
type Subscription[T any] struct {
	feed    *Feed[T]
	events  chan T
	dropped atomic.Uint64
	once    sync.Once
}

// Subscribe registers a new subscriber. Values published after
// Subscribe returns are delivered to it.
func (feed *Feed[T]) Subscribe() *Subscription[T] {
	subscription := &Subscription[T]{
		feed:   feed,
		events: make(chan T, feed.buffer),
	}
	feed.mutex.Lock()
	feed.subscribers[subscription] = struct{}{}
	feed.mutex.Unlock()
	return subscription
}

// Publish offers value to every subscriber and returns how many
// accepted it.
func (feed *Feed[T]) Publish(value T) int {
	feed.mutex.RLock()
	defer feed.mutex.RUnlock()

	delivered := 0
	for subscription := range feed.subscribers {
		select {
		case subscription.events <- value:
			delivered++
		default:
			subscription.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the current subscriber count.
func (feed *Feed[T]) Subscribers() int {
	feed.mutex.RLock()
	defer feed.mutex.RUnlock()
	return len(feed.subscribers)
}

// C returns the subscriber's queue. It is closed by Unsubscribe.
func (subscription *Subscription[T]) C() <-chan T { return subscription.events }

// TakeDropped returns the number of values missed since the previous
// call and resets the count.
func (subscription *Subscription[T]) TakeDropped() uint64 {
	return subscription.dropped.Swap(0)
}

// Unsubscribe removes the subscriber and closes its queue. It is safe
// to call more than once.
func (subscription *Subscription[T]) Unsubscribe() {
	subscription.once.Do(func() {
		feed := subscription.feed
		feed.mutex.Lock()
		delete(feed.subscribers, subscription)
		feed.mutex.Unlock()
		close(subscription.events)
	})
}
