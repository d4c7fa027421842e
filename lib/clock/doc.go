// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Structs that read time carry a Clock field. Production wiring passes
// Real(); tests pass Fake() and drive time with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	monitor := relay.NewMonitor(relay.MonitorConfig{Clock: c, ...})
//	go monitor.Run(ctx)
//	c.WaitForTimers(1)         // the monitor's ticker is registered
//	c.Advance(5 * time.Second) // fire it deterministically
//
// Context deadlines still use the runtime clock; code that needs a
// fake-controllable timeout selects on Clock.After instead.
package clock
