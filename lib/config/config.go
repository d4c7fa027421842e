// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads.
const EnvironmentVariable = "FLOWSCOPE_CONFIG"

// Compression values accepted by ExportConfig.Compression.
var Compressions = []string{"none", "lz4", "zstd"}

// Config is the configuration for flowscope-server and
// flowscope-relay. Each binary reads the sections it needs.
type Config struct {
	// NodeName tags every event this server emits. Defaults to the
	// hostname.
	NodeName string `yaml:"node_name"`

	// SocketPath is the Unix socket serving queries and status.
	SocketPath string `yaml:"socket_path"`

	// IngestSocketPath is the Unix socket the capture pipeline
	// streams records into. Connections are restricted to the
	// server's own uid and root.
	IngestSocketPath string `yaml:"ingest_socket_path"`

	// MetricsAddress is the TCP address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddress string `yaml:"metrics_address"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Buffer BufferConfig `yaml:"buffer"`
	Relay  RelayConfig  `yaml:"relay"`
	Export ExportConfig `yaml:"export"`
	TLS    TLSConfig    `yaml:"tls"`
}

// BufferConfig sizes the ring buffers, in records.
type BufferConfig struct {
	Flows       int `yaml:"flows"`
	AgentEvents int `yaml:"agent_events"`
	DebugEvents int `yaml:"debug_events"`
}

// PeerConfig is one node a relay aggregates.
type PeerConfig struct {
	Name string `yaml:"name"`
	// Address is the peer's query socket path.
	Address string `yaml:"address"`
}

// RelayConfig configures flowscope-relay.
type RelayConfig struct {
	SocketPath string       `yaml:"socket_path"`
	Peers      []PeerConfig `yaml:"peers"`

	// PeerTimeout bounds each per-node status query.
	PeerTimeout time.Duration `yaml:"peer_timeout"`

	// ProbeInterval is how often the connectivity monitor queries
	// every peer.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// MaxUnavailableNodes caps the unavailable_nodes list in
	// aggregated status.
	MaxUnavailableNodes int `yaml:"max_unavailable_nodes"`
}

// ExportConfig configures the export file sink. An empty Path
// disables export.
type ExportConfig struct {
	Path string `yaml:"path"`

	// Compression is none, lz4, or zstd.
	Compression string `yaml:"compression"`

	// ChunkEvents is the number of events per chunk.
	ChunkEvents int `yaml:"chunk_events"`

	// MaxSizeBytes rotates the export file once it grows past this
	// size. Zero disables rotation.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`

	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`

	// ReorderWindow is how long events are held so that sources with
	// different latency interleave in timestamp order.
	ReorderWindow time.Duration `yaml:"reorder_window"`

	// FilterFile is an optional JSONC flow filter applied to exported
	// flows.
	FilterFile string `yaml:"filter_file"`
}

// TLSConfig describes the node's TLS posture for status reporting.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ServerName string `yaml:"server_name"`
}

// Default returns the configuration used as a base before the file is
// loaded.
func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		NodeName:         hostname,
		SocketPath:       "${FLOWSCOPE_RUNTIME:-/run/flowscope}/flowscope.sock",
		IngestSocketPath: "${FLOWSCOPE_RUNTIME:-/run/flowscope}/ingest.sock",
		LogLevel:         "info",
		Buffer: BufferConfig{
			Flows:       4096,
			AgentEvents: 100,
			DebugEvents: 100,
		},
		Relay: RelayConfig{
			SocketPath:          "${FLOWSCOPE_RUNTIME:-/run/flowscope}/relay.sock",
			PeerTimeout:         5 * time.Second,
			ProbeInterval:       30 * time.Second,
			MaxUnavailableNodes: 10,
		},
		Export: ExportConfig{
			Compression:   "zstd",
			ChunkEvents:   256,
			MaxSizeBytes:  64 << 20,
			MaxBackups:    3,
			ReorderWindow: 2 * time.Second,
		},
	}
}

// Load loads configuration from the FLOWSCOPE_CONFIG environment
// variable. It fails when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your flowscope.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(path)
}

// Resolve picks the configuration for a binary: the --config flag
// value when set, otherwise FLOWSCOPE_CONFIG when set, otherwise
// [Default] with variables expanded.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.ExpandVariables()
	return cfg, nil
}

// LoadFile loads configuration from path over [Default] and expands
// path variables. It does not validate; callers run [Config.Validate]
// after applying any flag overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} in path fields.
// [LoadFile] calls it; binaries that run on [Default] alone call it
// themselves.
func (c *Config) ExpandVariables() {
	for _, field := range []*string{
		&c.SocketPath, &c.IngestSocketPath, &c.Relay.SocketPath,
		&c.Export.Path, &c.Export.FilterFile,
	} {
		*field = expandVars(*field)
	}
	for index := range c.Relay.Peers {
		c.Relay.Peers[index].Address = expandVars(c.Relay.Peers[index].Address)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.NodeName == "" {
		errs = append(errs, fmt.Errorf("node_name is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q must be debug, info, warn, or error", c.LogLevel))
	}

	for _, buffer := range []struct {
		name string
		size int
	}{
		{"buffer.flows", c.Buffer.Flows},
		{"buffer.agent_events", c.Buffer.AgentEvents},
		{"buffer.debug_events", c.Buffer.DebugEvents},
	} {
		if buffer.size < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", buffer.name, buffer.size))
		}
	}

	if c.Relay.PeerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("relay.peer_timeout must be positive"))
	}
	if c.Relay.ProbeInterval <= 0 {
		errs = append(errs, fmt.Errorf("relay.probe_interval must be positive"))
	}
	if c.Relay.MaxUnavailableNodes < 0 {
		errs = append(errs, fmt.Errorf("relay.max_unavailable_nodes must not be negative"))
	}
	seen := make(map[string]bool, len(c.Relay.Peers))
	for index, peer := range c.Relay.Peers {
		if peer.Name == "" || peer.Address == "" {
			errs = append(errs, fmt.Errorf("relay.peers[%d]: name and address are required", index))
			continue
		}
		if seen[peer.Name] {
			errs = append(errs, fmt.Errorf("relay.peers[%d]: duplicate peer name %q", index, peer.Name))
		}
		seen[peer.Name] = true
	}

	if !slices.Contains(Compressions, c.Export.Compression) {
		errs = append(errs, fmt.Errorf("export.compression %q must be one of %v", c.Export.Compression, Compressions))
	}
	if c.Export.ChunkEvents <= 0 {
		errs = append(errs, fmt.Errorf("export.chunk_events must be positive"))
	}
	if c.Export.MaxSizeBytes < 0 || c.Export.MaxBackups < 0 {
		errs = append(errs, fmt.Errorf("export.max_size_bytes and export.max_backups must not be negative"))
	}
	if c.Export.ReorderWindow < 0 {
		errs = append(errs, fmt.Errorf("export.reorder_window must not be negative"))
	}

	return errors.Join(errs...)
}
