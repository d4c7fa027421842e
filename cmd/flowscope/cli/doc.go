// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command tree behind the flowscope CLI: commands
// with lazily built pflag flag sets, nested dispatch, typo
// suggestions for unknown commands and flags, and generated help.
package cli
