// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for flowscope binaries.
// Values are injected with -ldflags:
//
//	go build -ldflags "-X github.com/bureau-foundation/flowscope/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Short() is also what nodes report as their version in status
// responses, so a relay can show a mixed-version cluster.
package version
