// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds flowscope's CBOR configuration.
//
// CBOR is the only binary format flowscope speaks: socket requests and
// responses, streamed event frames, ingest batches, and export file
// chunks all go through this package so every producer encodes the
// same way.
//
//	data, err := codec.Marshal(event)
//	err = codec.Unmarshal(data, &event)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Schema types in lib/schema/flow carry `json` tags only. fxamacker/cbor
// falls back to `json` tags, so one tag names a field in both the CBOR
// wire format and the CLI's JSON output. Types that never leave the
// CBOR world (socket envelopes, export chunk headers) use `cbor` tags.
package codec
