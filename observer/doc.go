// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package observer serves queries over a node's ring buffers.
//
// A query request (GetFlows, GetAgentEvents, GetDebugEvents) is
// validated and resolved into a [Plan]: which retained records to
// replay and whether to keep following new ones. A [Session] executes
// the plan as a pull-based state machine:
//
//	Backfilling ──▶ Live ──▶ Closed
//	     │  ▲        │ ▲
//	     ▼  │        ▼ │
//	   LossPending ◀───┘
//
// Backfilling replays retained records. Live follows the writer,
// suspending when caught up. LossPending emits one lost_events record
// when the reader was overrun and then resumes the previous state at
// the oldest record still retained. Closed is reached on natural end
// of a non-follow plan, on cancellation, or on Close.
//
// [Observer] ties the node's rings, status feed, and identity
// together: it validates requests, opens sessions, ingests records
// from the capture pipeline, and reports node status.
package observer
