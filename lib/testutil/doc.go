// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] are the only
// places tests wait on the wall clock: a select with a generous timeout
// that turns a hang into a test failure. Everything else drives time
// through lib/clock.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// which have a 108-byte path limit that t.TempDir() can exceed.
package testutil
