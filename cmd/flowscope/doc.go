// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// flowscope queries flowscope servers and relays and reads export
// files.
//
//	flowscope observe     stream flows, agent events, or debug events
//	flowscope status      print a server's or relay's status
//	flowscope nodes       list the nodes behind a relay
//	flowscope export-cat  decode an export file
//
// Filters for observe are JSONC files of whitelist and blacklist
// lists; see [filter.Lists].
package main
