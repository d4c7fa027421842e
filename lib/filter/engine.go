// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter decides which flows a reader receives.
//
// An [Engine] holds two predicate lists. A flow matches when the
// whitelist is empty or any whitelist predicate accepts it, and no
// blacklist predicate accepts it. Each list stops at the first
// predicate that returns true.
//
// Predicates are compiled from [flow.FlowFilter] values by [Build].
// Compilation validates every value up front (CIDRs, globs, ports,
// enum names, status codes) so a malformed filter fails the request
// instead of silently matching nothing for the rest of a stream.
package filter

import "github.com/bureau-foundation/flowscope/lib/schema/flow"

// Predicate is a pure test over a flow.
type Predicate func(*flow.Flow) bool

// Engine evaluates a whitelist and blacklist. A nil Engine matches
// every flow.
type Engine struct {
	whitelist []Predicate
	blacklist []Predicate
}

// New builds an engine from already-compiled predicates.
func New(whitelist, blacklist []Predicate) *Engine {
	return &Engine{whitelist: whitelist, blacklist: blacklist}
}

// Match reports whether f passes the filter.
func (engine *Engine) Match(f *flow.Flow) bool {
	if engine == nil {
		return true
	}
	if len(engine.whitelist) > 0 && !anyMatch(engine.whitelist, f) {
		return false
	}
	return !anyMatch(engine.blacklist, f)
}

// Empty reports whether the engine accepts every flow.
func (engine *Engine) Empty() bool {
	return engine == nil || (len(engine.whitelist) == 0 && len(engine.blacklist) == 0)
}

func anyMatch(predicates []Predicate, f *flow.Flow) bool {
	for _, predicate := range predicates {
		if predicate(f) {
			return true
		}
	}
	return false
}
