// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transport scaffolding shared by
// flowscope binaries:
//
//   - Socket server: CBOR Unix socket server with action dispatch.
//     Request/response actions handle exactly one request per
//     connection; streaming actions take over the connection after
//     the request and write a sequence of CBOR frames.
//   - Client: one-shot Call and long-lived OpenStream against a
//     socket server.
//   - HTTP server: TCP listener lifecycle for the metrics endpoint.
//   - Logger: slog construction that picks text or JSON output.
//   - Peer credentials: kernel-reported uid/pid of a Unix socket
//     peer, used to restrict the ingest socket.
//
// Binaries compose these pieces in their own main() rather than
// subclassing a framework.
//
// # Stream protocol
//
// A streaming action begins like any other: the client writes one
// CBOR request map carrying an "action" field. The handler answers
// with a [StreamAck]. After a successful ack, both sides exchange
// action-specific CBOR values until one side closes. Clients must
// not write past the request until they have read the ack; the
// server's request decoder is discarded after routing.
package service
