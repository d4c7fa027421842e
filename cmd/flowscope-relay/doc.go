// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// flowscope-relay aggregates the status of a set of flowscope-server
// nodes.
//
// Peers are listed under relay.peers in the configuration file; each
// names a node and the path of its query socket. The relay answers on
// relay.socket_path:
//
//   - server_status: counters summed over the nodes that answered
//     within relay.peer_timeout, with connected and unavailable
//     counts and up to relay.max_unavailable_nodes unavailable names.
//   - get_nodes: one entry per configured peer, unavailable ones
//     included.
//   - watch_nodes: streaming. After the StreamAck the relay writes a
//     [flow.Frame] carrying a node_status event each time a node
//     connects or becomes unavailable, as seen by the periodic probe.
package main
