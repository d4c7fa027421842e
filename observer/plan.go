// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"slices"

	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
)

// Request is the stream-independent part of a query.
type Request struct {
	// Number bounds the backfill to this many matching records.
	Number uint64
	// First selects the oldest Number records instead of the newest.
	// It has no effect without Number.
	First bool
	// Follow keeps the session open for records appended after the
	// request was accepted.
	Follow bool
	// Since and Until bound record timestamps to [Since, Until), in
	// Unix nanoseconds. Zero means unbounded.
	Since int64
	Until int64
}

// Validate rejects contradictory combinations.
func (r Request) Validate() error {
	if r.Number > 0 && (r.Since != 0 || r.Until != 0) {
		return invalidf("number cannot be combined with since or until")
	}
	if r.Follow && r.Until != 0 {
		return invalidf("follow cannot be combined with until")
	}
	if r.Since != 0 && r.Until != 0 && r.Since >= r.Until {
		return invalidf("since must be before until")
	}
	if r.Since < 0 || r.Until < 0 {
		return invalidf("since and until must not be negative")
	}
	return nil
}

// Mode is how a plan replays retained records.
type Mode uint8

const (
	// ModeLatest replays the newest Number matching records.
	ModeLatest Mode = iota
	// ModeEarliest replays the oldest Number matching records.
	ModeEarliest
	// ModeRange replays matching records with timestamps in
	// [Since, Until).
	ModeRange
	// ModeAll replays every retained matching record.
	ModeAll
	// ModeLive replays nothing; the session starts live.
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeLatest:
		return "latest"
	case ModeEarliest:
		return "earliest"
	case ModeRange:
		return "range"
	case ModeAll:
		return "all"
	case ModeLive:
		return "live"
	}
	return "unknown"
}

// backfillChunk is how many records a backfill step reads from the
// ring at once.
const backfillChunk = 256

// Plan is a request resolved against one ring at one instant.
//
// Resolving takes a single snapshot of the ring's bounds and splits
// the sequence space at the head it saw. Records in [start, liveFrom)
// are history: the backfill scanner replays them according to the
// mode. Records at or above liveFrom belong to the live phase, which
// a follow session enters once backfill is done. Every record is owned
// by exactly one phase, so a record is delivered at most once and an
// overwritten record is reported as lost by exactly one phase: the
// backfill never counts loss at or above liveFrom, and the live
// follower never looks below it.
//
// A Plan holds no resources and may back several sessions, though in
// practice each session resolves its own.
type Plan[T any] struct {
	ring    *ringbuffer.Ring[T]
	request Request
	mode    Mode
	// start is the oldest readable record when the plan was resolved.
	// A forward backfill begins here, so anything overwritten before
	// the session's first read is reported rather than skipped.
	start uint64
	// liveFrom is the ring head when the plan was resolved. Backfill
	// covers records below it; Live delivers records at or above it.
	liveFrom uint64
	match    func(*ringbuffer.Entry[T]) bool
}

// NewPlan validates request and resolves it against ring's current
// head. match filters record values; nil accepts everything.
func NewPlan[T any](ring *ringbuffer.Ring[T], request Request, match func(T) bool) (*Plan[T], error) {
	if err := request.Validate(); err != nil {
		return nil, err
	}
	start, head := ring.Bounds()
	plan := &Plan[T]{
		ring:     ring,
		request:  request,
		start:    start,
		liveFrom: head,
	}
	switch {
	case request.Number > 0 && request.First:
		plan.mode = ModeEarliest
	case request.Number > 0:
		plan.mode = ModeLatest
	case request.Since != 0 || request.Until != 0:
		plan.mode = ModeRange
	case request.Follow:
		plan.mode = ModeLive
	default:
		plan.mode = ModeAll
	}

	since, until := request.Since, request.Until
	plan.match = func(entry *ringbuffer.Entry[T]) bool {
		if since != 0 && entry.Time < since {
			return false
		}
		if until != 0 && entry.Time >= until {
			return false
		}
		return match == nil || match(entry.Value)
	}
	return plan, nil
}

// Mode returns the resolved replay mode.
func (plan *Plan[T]) Mode() Mode { return plan.mode }

// Follow reports whether the plan continues live after backfill.
func (plan *Plan[T]) Follow() bool { return plan.request.Follow }

// LiveFrom returns the first sequence number the live phase delivers.
func (plan *Plan[T]) LiveFrom() uint64 { return plan.liveFrom }

// step is one unit of backfill: records to deliver, preceded by a
// count of records lost to overwrite.
type step[T any] struct {
	entries []*ringbuffer.Entry[T]
	lost    uint64
	done    bool
}

// scanner produces backfill steps.
type scanner[T any] interface {
	next() step[T]
}

func (plan *Plan[T]) scanner() scanner[T] {
	switch plan.mode {
	case ModeLatest:
		return &latestScanner[T]{plan: plan}
	case ModeLive:
		return doneScanner[T]{}
	default:
		return &forwardScanner[T]{
			plan:   plan,
			cursor: plan.start,
			limit:  plan.request.Number,
		}
	}
}

type doneScanner[T any] struct{}

func (doneScanner[T]) next() step[T] { return step[T]{done: true} }

// forwardScanner walks from the plan's start up to the live boundary,
// delivering matches until limit (0: unlimited). When the writer laps
// the cursor, the step reports the skipped history records and the
// scan resumes at the oldest record still retained; if that is already
// past the boundary the backfill is over.
type forwardScanner[T any] struct {
	plan    *Plan[T]
	cursor  uint64
	limit   uint64
	matched uint64
}

func (scan *forwardScanner[T]) next() step[T] {
	end := scan.plan.liveFrom
	if scan.cursor >= end || (scan.limit > 0 && scan.matched >= scan.limit) {
		return step[T]{done: true}
	}
	result := scan.plan.ring.ReadRange(scan.cursor, backfillChunk, ringbuffer.Forward)
	// Loss at or above end is the live follower's to report.
	out := step[T]{lost: min(result.Lost, end-scan.cursor)}
	scan.cursor = result.Next
	for _, entry := range result.Entries {
		if entry.Seq >= end {
			scan.cursor = end
			break
		}
		if !scan.plan.match(entry) {
			continue
		}
		out.entries = append(out.entries, entry)
		scan.matched++
		if scan.limit > 0 && scan.matched >= scan.limit {
			break
		}
	}
	out.done = scan.cursor >= end || (scan.limit > 0 && scan.matched >= scan.limit)
	return out
}

// latestScanner walks backward from the live boundary collecting the
// newest matches, then delivers them in ascending order in one step.
// Records overwritten during the walk are older than anything it
// still needs to return, so they are not reported as lost.
type latestScanner[T any] struct {
	plan *Plan[T]
}

func (scan *latestScanner[T]) next() step[T] {
	plan := scan.plan
	limit := plan.request.Number
	if plan.liveFrom == 0 {
		return step[T]{done: true}
	}
	var collected []*ringbuffer.Entry[T]
	cursor := plan.liveFrom - 1
	for uint64(len(collected)) < limit {
		result := plan.ring.ReadRange(cursor, backfillChunk, ringbuffer.Backward)
		for _, entry := range result.Entries {
			if entry.Seq >= plan.liveFrom || !plan.match(entry) {
				continue
			}
			collected = append(collected, entry)
			if uint64(len(collected)) >= limit {
				break
			}
		}
		if result.Done || len(result.Entries) == 0 {
			break
		}
		cursor = result.Next
	}
	slices.Reverse(collected)
	return step[T]{entries: collected, done: true}
}
