// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by the flowscope
// binaries. Fatal is the one place a binary writes to stderr without
// the structured logger, for errors raised before the logger exists
// or returned from run().
package process
