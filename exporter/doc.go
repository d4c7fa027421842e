// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package exporter fans every event source of a node into one ordered
// feed for export sinks.
//
// A [Multiplexer] accepts events from any goroutine and releases them
// ordered by observation timestamp once the reorder window has passed,
// breaking ties by arrival order. An event that arrives after later
// events were already released is clamped to the release watermark
// and counted as late; it is never dropped.
//
// [Multiplexer.Attach] wires the node's rings and status feed in as
// sources. [FileSink] writes the ordered feed to a rotating file of
// compressed, hashed CBOR chunks, and [Reader] reads it back.
//
// # File format
//
// An export file is a sequence of CBOR values: one [FileHeader]
// followed by any number of chunks. Each chunk carries a batch of
// events encoded as a CBOR array, compressed with the chunk's
// compression tag, and a BLAKE3 keyed hash of the uncompressed bytes.
package exporter
