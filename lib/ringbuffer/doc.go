// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ringbuffer provides a fixed-capacity, single-writer,
// multi-reader ring of sequence-numbered records.
//
// Every appended record gets the next sequence number, starting at 0.
// Once the ring is full each append overwrites the oldest slot. A
// guard band of slots behind the writer is never handed to readers:
// the readable window is the newest Cap()-guard records. The guard
// keeps a reader that snapshotted the window from racing the writer
// into a half-overwritten region; a reader that still loses the race
// sees a sequence mismatch on the slot and reports the records as
// lost rather than returning a newer record in their place.
//
// Readers never block the writer. [Ring.ReadRange] serves bounded
// historical scans in either direction. [Ring.Follow] returns a
// [Follower] that yields records in order as they are appended and
// reports overruns as a [Read] carrying only a Lost count.
package ringbuffer
