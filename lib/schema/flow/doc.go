// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package flow defines flowscope's wire schema: captured flow records,
// the agent and debug event records that share the flow pipeline, the
// tagged event union streamed to clients and export sinks, request
// types for the streaming actions, and node/server status.
//
// Every type carries `json` tags. CBOR (lib/codec) reads them as a
// fallback, so one tag set names fields for the socket protocol, the
// CLI's --json output, and JSONC filter files.
//
// Timestamps are Unix nanoseconds. The zero value means "unset" in
// requests (Since, Until) and is never a valid capture time.
package flow
