// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

// FlowFilter is one structural predicate. Set fields AND together;
// the values listed for a single field OR together. A filter with no
// fields set matches every flow.
type FlowFilter struct {
	UUID []string `json:"uuid,omitempty"`
	// SourceIP and DestinationIP accept addresses or CIDR prefixes.
	SourceIP      []string `json:"source_ip,omitempty"`
	DestinationIP []string `json:"destination_ip,omitempty"`
	// SourcePod and DestinationPod are globs over "namespace/pod".
	SourcePod      []string `json:"source_pod,omitempty"`
	DestinationPod []string `json:"destination_pod,omitempty"`
	// SourceLabel and DestinationLabel are "key" (presence) or
	// "key=value" selectors.
	SourceLabel      []string `json:"source_label,omitempty"`
	DestinationLabel []string `json:"destination_label,omitempty"`
	SourcePort       []string `json:"source_port,omitempty"`
	DestinationPort  []string `json:"destination_port,omitempty"`
	Protocol         []string `json:"protocol,omitempty"`
	Verdict          []string `json:"verdict,omitempty"`
	TrafficDirection []string `json:"traffic_direction,omitempty"`
	// EventType is "l3_l4", "l7", or "sock".
	EventType []string `json:"event_type,omitempty"`
	// NodeName is a glob over node names.
	NodeName []string `json:"node_name,omitempty"`
	Reply    []bool   `json:"reply,omitempty"`
	// HTTPStatusCode is an exact code ("404") or a class ("5+").
	HTTPStatusCode []string `json:"http_status_code,omitempty"`
	HTTPMethod     []string `json:"http_method,omitempty"`
	// DNSQuery is a glob over the query name.
	DNSQuery []string `json:"dns_query,omitempty"`
}

// Experimental holds request options whose shape may still change.
type Experimental struct {
	// FieldMask lists dotted Flow field paths to keep; empty keeps
	// everything.
	FieldMask []string `json:"field_mask,omitempty"`
}

// GetFlowsRequest is the request for the "get_flows" streaming action.
// Number and Since/Until are mutually exclusive; Follow cannot be
// combined with Until.
type GetFlowsRequest struct {
	Number       uint64        `json:"number,omitempty"`
	First        bool          `json:"first,omitempty"`
	Follow       bool          `json:"follow,omitempty"`
	Whitelist    []FlowFilter  `json:"whitelist,omitempty"`
	Blacklist    []FlowFilter  `json:"blacklist,omitempty"`
	Since        int64         `json:"since,omitempty"`
	Until        int64         `json:"until,omitempty"`
	Experimental *Experimental `json:"experimental,omitempty"`
}

// GetAgentEventsRequest is the request for "get_agent_events".
type GetAgentEventsRequest struct {
	Number uint64 `json:"number,omitempty"`
	First  bool   `json:"first,omitempty"`
	Follow bool   `json:"follow,omitempty"`
	Since  int64  `json:"since,omitempty"`
	Until  int64  `json:"until,omitempty"`
}

// GetDebugEventsRequest is the request for "get_debug_events".
type GetDebugEventsRequest struct {
	Number uint64 `json:"number,omitempty"`
	First  bool   `json:"first,omitempty"`
	Follow bool   `json:"follow,omitempty"`
	Since  int64  `json:"since,omitempty"`
	Until  int64  `json:"until,omitempty"`
}

// IngestBatch is what the capture pipeline streams on the "ingest"
// action. Each event must carry a flow, agent event, or debug event;
// Time is the capture timestamp. The server stamps NodeName.
type IngestBatch struct {
	Sequence uint64  `json:"sequence"`
	Events   []Event `json:"events"`
}
