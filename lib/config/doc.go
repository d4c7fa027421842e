// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for flowscope
// binaries.
//
// Configuration is loaded from a single file specified by either the
// FLOWSCOPE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search. Values absent from the file keep their [Default].
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${FLOWSCOPE_RUNTIME}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// This package depends on no other flowscope packages.
package config
