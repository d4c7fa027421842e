// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// flowscope-server serves one node's flow, agent event, and debug
// event buffers.
//
// The capture pipeline streams [flow.IngestBatch] values into the
// ingest socket, which accepts only the server's own uid and root.
// Clients query the main socket:
//
//   - server_status, get_nodes: request/response.
//   - get_flows, get_agent_events, get_debug_events: streaming. The
//     server answers with a StreamAck and then a sequence of
//     [flow.Frame] values, ending with an "end" frame for bounded
//     requests. Follow requests run until the client disconnects.
//
// When export.path is configured, every event is also fanned into a
// timestamp-ordered export file. When metrics_address is set,
// Prometheus metrics are served at /metrics.
package main
