// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay aggregates status across flowscope nodes.
//
// An [Aggregator] queries every [Peer] in parallel, each under its own
// timeout, and merges whatever answered: flow counters are summed,
// uptime is the maximum, and peers that failed or timed out are
// counted as unavailable. One unreachable node never fails the call.
//
// A [Monitor] probes the peers periodically and publishes a
// NodeStatusEvent whenever a node's connectivity changes, so live flow
// sessions can tell clients about it.
package relay
