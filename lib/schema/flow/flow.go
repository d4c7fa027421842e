// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"fmt"
	"strings"
	"time"
)

// Verdict is the datapath's decision for a flow.
type Verdict uint8

const (
	VerdictUnknown Verdict = iota
	VerdictForwarded
	VerdictDropped
	VerdictError
	VerdictAudit
	VerdictRedirected
	VerdictTraced
	VerdictTranslated
)

var verdictNames = [...]string{
	VerdictUnknown:    "unknown",
	VerdictForwarded:  "forwarded",
	VerdictDropped:    "dropped",
	VerdictError:      "error",
	VerdictAudit:      "audit",
	VerdictRedirected: "redirected",
	VerdictTraced:     "traced",
	VerdictTranslated: "translated",
}

func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf("verdict(%d)", v)
}

// ParseVerdict accepts verdict names case-insensitively.
func ParseVerdict(name string) (Verdict, error) {
	for value, candidate := range verdictNames {
		if strings.EqualFold(candidate, name) {
			return Verdict(value), nil
		}
	}
	return VerdictUnknown, fmt.Errorf("unknown verdict %q", name)
}

// TrafficDirection is relative to the endpoint where the flow was
// observed.
type TrafficDirection uint8

const (
	DirectionUnknown TrafficDirection = iota
	DirectionIngress
	DirectionEgress
)

func (d TrafficDirection) String() string {
	switch d {
	case DirectionIngress:
		return "ingress"
	case DirectionEgress:
		return "egress"
	default:
		return "unknown"
	}
}

// ParseTrafficDirection accepts "ingress" and "egress".
func ParseTrafficDirection(name string) (TrafficDirection, error) {
	switch strings.ToLower(name) {
	case "ingress":
		return DirectionIngress, nil
	case "egress":
		return DirectionEgress, nil
	}
	return DirectionUnknown, fmt.Errorf("unknown traffic direction %q", name)
}

// Type distinguishes the layer a flow was captured at.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeL3L4
	TypeL7
	TypeSock
)

func (t Type) String() string {
	switch t {
	case TypeL3L4:
		return "l3_l4"
	case TypeL7:
		return "l7"
	case TypeSock:
		return "sock"
	default:
		return "unknown"
	}
}

// ParseType accepts "l3_l4", "l7", and "sock".
func ParseType(name string) (Type, error) {
	switch strings.ToLower(name) {
	case "l3_l4", "l34":
		return TypeL3L4, nil
	case "l7":
		return TypeL7, nil
	case "sock":
		return TypeSock, nil
	}
	return TypeUnknown, fmt.Errorf("unknown event type %q", name)
}

// Protocols recognized by protocol filters and the CLI formatter.
var Protocols = []string{"tcp", "udp", "icmpv4", "icmpv6", "sctp"}

// Endpoint is one side of a flow.
type Endpoint struct {
	IP        string `json:"ip,omitempty"`
	Port      uint16 `json:"port,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	PodName   string `json:"pod_name,omitempty"`
	// Labels are "key=value" strings, sorted.
	Labels   []string `json:"labels,omitempty"`
	Identity uint32   `json:"identity,omitempty"`
}

// PodPath returns "namespace/pod", the name pod filters match against.
// Empty when the endpoint is not a pod.
func (e Endpoint) PodPath() string {
	if e.PodName == "" {
		return ""
	}
	return e.Namespace + "/" + e.PodName
}

// HTTP carries the L7 fields of an HTTP flow.
type HTTP struct {
	Method string `json:"method,omitempty"`
	URL    string `json:"url,omitempty"`
	Code   uint32 `json:"code,omitempty"`
}

// DNS carries the L7 fields of a DNS flow.
type DNS struct {
	Query string   `json:"query,omitempty"`
	IPs   []string `json:"ips,omitempty"`
	RCode uint32   `json:"rcode,omitempty"`
}

// L7 is present only for TypeL7 flows.
type L7 struct {
	HTTP      *HTTP  `json:"http,omitempty"`
	DNS       *DNS   `json:"dns,omitempty"`
	LatencyNS uint64 `json:"latency_ns,omitempty"`
}

// Flow is one captured network flow. Flows are immutable once they
// enter a ring buffer; code that needs a modified copy (field masks)
// builds a new value.
type Flow struct {
	UUID             string           `json:"uuid,omitempty"`
	Time             int64            `json:"time,omitempty"`
	NodeName         string           `json:"node_name,omitempty"`
	Verdict          Verdict          `json:"verdict,omitempty"`
	DropReason       string           `json:"drop_reason,omitempty"`
	Type             Type             `json:"type,omitempty"`
	Protocol         string           `json:"protocol,omitempty"`
	Source           Endpoint         `json:"source"`
	Destination      Endpoint         `json:"destination"`
	TrafficDirection TrafficDirection `json:"traffic_direction,omitempty"`
	// IsReply is nil when the datapath could not tell.
	IsReply *bool  `json:"is_reply,omitempty"`
	L7      *L7    `json:"l7,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// CaptureTime converts Time to a time.Time.
func (f *Flow) CaptureTime() time.Time {
	return time.Unix(0, f.Time)
}

// AgentEvent is a notification from the node agent (policy updates,
// endpoint lifecycle, service changes).
type AgentEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	// Attributes are free-form key/value details, e.g. endpoint ID.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DebugEvent is a datapath debug message.
type DebugEvent struct {
	Type    string `json:"type"`
	Source  string `json:"source,omitempty"`
	CPU     int32  `json:"cpu,omitempty"`
	Message string `json:"message,omitempty"`
}

// Nanos converts t to the wire representation. The zero time maps to
// 0 (unset).
func Nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// FromNanos converts a wire timestamp to time.Time. 0 maps to the zero
// time.
func FromNanos(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
