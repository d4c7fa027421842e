// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

// TLS describes how a node's listener is secured. flowscope itself
// does not terminate TLS; the values come from configuration so
// operators can see a cluster's posture in one place.
type TLS struct {
	Enabled    bool   `json:"enabled"`
	ServerName string `json:"server_name,omitempty"`
}

// Node is one node's status snapshot. Relays build it fresh on every
// GetNodes call.
type Node struct {
	Name      string    `json:"name"`
	Version   string    `json:"version,omitempty"`
	Address   string    `json:"address,omitempty"`
	State     NodeState `json:"state"`
	TLS       *TLS      `json:"tls,omitempty"`
	UptimeNS  uint64    `json:"uptime_ns,omitempty"`
	NumFlows  uint64    `json:"num_flows,omitempty"`
	MaxFlows  uint64    `json:"max_flows,omitempty"`
	SeenFlows uint64    `json:"seen_flows,omitempty"`
}

// GetNodesResponse is the response for "get_nodes".
type GetNodesResponse struct {
	Nodes []Node `json:"nodes"`
}

// ServerStatusResponse is the response for "server_status". A single
// node leaves the node counts nil; a relay fills them.
type ServerStatusResponse struct {
	NumFlows            uint64   `json:"num_flows"`
	MaxFlows            uint64   `json:"max_flows"`
	SeenFlows           uint64   `json:"seen_flows"`
	UptimeNS            uint64   `json:"uptime_ns"`
	NumConnectedNodes   *uint32  `json:"num_connected_nodes,omitempty"`
	NumUnavailableNodes *uint32  `json:"num_unavailable_nodes,omitempty"`
	UnavailableNodes    []string `json:"unavailable_nodes,omitempty"`
	Version             string   `json:"version"`
}
