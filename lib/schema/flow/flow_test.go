// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"slices"
	"testing"
	"time"

	"github.com/bureau-foundation/flowscope/lib/codec"
)

func TestParseVerdict(t *testing.T) {
	t.Parallel()

	for _, verdict := range []Verdict{VerdictForwarded, VerdictDropped, VerdictAudit, VerdictTranslated} {
		parsed, err := ParseVerdict(verdict.String())
		if err != nil {
			t.Fatalf("ParseVerdict(%q): %v", verdict, err)
		}
		if parsed != verdict {
			t.Errorf("ParseVerdict(%q) = %v, want %v", verdict, parsed, verdict)
		}
	}
	if parsed, _ := ParseVerdict("DROPPED"); parsed != VerdictDropped {
		t.Errorf("ParseVerdict(DROPPED) = %v, want dropped", parsed)
	}
	if _, err := ParseVerdict("maybe"); err == nil {
		t.Error("ParseVerdict(maybe) should fail")
	}
}

func TestEventKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event Event
		want  EventKind
	}{
		{"empty", Event{}, KindInvalid},
		{"flow", Event{Flow: &Flow{}}, KindFlow},
		{"node status", Event{NodeStatus: &NodeStatusEvent{}}, KindNodeStatus},
		{"lost", Event{LostEvents: &LostEvent{NumEventsLost: 3}}, KindLostEvents},
		{"agent", Event{AgentEvent: &AgentEvent{Type: "policy_updated"}}, KindAgentEvent},
		{"debug", Event{DebugEvent: &DebugEvent{Type: "drop"}}, KindDebugEvent},
		{"two variants", Event{Flow: &Flow{}, DebugEvent: &DebugEvent{}}, KindInvalid},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			if got := test.event.Kind(); got != test.want {
				t.Errorf("Kind() = %v, want %v", got, test.want)
			}
			err := test.event.Validate()
			if (err == nil) != (test.want != KindInvalid) {
				t.Errorf("Validate() = %v for kind %v", err, test.want)
			}
		})
	}
}

func TestEventWireNames(t *testing.T) {
	t.Parallel()

	event := Event{
		LostEvents: &LostEvent{Source: LostSourceRingBuffer, Buffer: "flows", NumEventsLost: 50},
		NodeName:   "node-a",
		Time:       Nanos(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	data, err := codec.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]any
	if err := codec.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"lost_events", "node_name", "time"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("encoded event missing key %q: %v", key, generic)
		}
	}
	if _, ok := generic["flow"]; ok {
		t.Error("nil flow variant should be omitted")
	}

	var decoded Event
	if err := codec.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal into Event: %v", err)
	}
	if decoded.Kind() != KindLostEvents || decoded.LostEvents.NumEventsLost != 50 {
		t.Errorf("decoded = %+v, want 50 lost events", decoded)
	}
}

func TestNanosZero(t *testing.T) {
	t.Parallel()

	if Nanos(time.Time{}) != 0 {
		t.Error("Nanos(zero) should be 0")
	}
	if !FromNanos(0).IsZero() {
		t.Error("FromNanos(0) should be the zero time")
	}
	now := time.Unix(1700000000, 123)
	if got := FromNanos(Nanos(now)); !got.Equal(now) {
		t.Errorf("FromNanos(Nanos(%v)) = %v", now, got)
	}
}

func sampleFlow() *Flow {
	reply := true
	return &Flow{
		UUID:     "f-1",
		Time:     42,
		NodeName: "node-a",
		Verdict:  VerdictForwarded,
		Type:     TypeL7,
		Protocol: "tcp",
		Source: Endpoint{
			IP: "10.0.0.1", Port: 43210, Namespace: "default", PodName: "client",
			Labels: []string{"app=client"},
		},
		Destination: Endpoint{
			IP: "10.0.0.2", Port: 80, Namespace: "default", PodName: "server",
			Labels: []string{"app=server"},
		},
		IsReply: &reply,
		L7: &L7{
			HTTP:      &HTTP{Method: "GET", URL: "/healthz", Code: 200},
			LatencyNS: 1500,
		},
		Summary: "HTTP/1.1 GET /healthz",
	}
}

func TestFieldMaskApply(t *testing.T) {
	t.Parallel()

	mask, err := ParseFieldMask([]string{"time", "source.pod_name", "l7.http.code"})
	if err != nil {
		t.Fatalf("ParseFieldMask: %v", err)
	}
	original := sampleFlow()
	masked := mask.Apply(original)

	if masked == original {
		t.Fatal("Apply returned the original flow")
	}
	if masked.Time != 42 {
		t.Errorf("Time = %d, want 42", masked.Time)
	}
	if masked.Source.PodName != "client" {
		t.Errorf("Source.PodName = %q, want client", masked.Source.PodName)
	}
	if masked.Source.IP != "" || masked.UUID != "" || masked.Summary != "" {
		t.Errorf("unselected fields leaked: %+v", masked)
	}
	if masked.L7 == nil || masked.L7.HTTP == nil || masked.L7.HTTP.Code != 200 {
		t.Fatalf("L7.HTTP.Code not kept: %+v", masked.L7)
	}
	if masked.L7.HTTP.Method != "" || masked.L7.LatencyNS != 0 {
		t.Errorf("unselected L7 fields leaked: %+v", masked.L7)
	}

	// The stored flow is untouched.
	if original.UUID != "f-1" || original.L7.HTTP.Method != "GET" {
		t.Errorf("Apply modified the original: %+v", original)
	}
}

func TestFieldMaskSubtree(t *testing.T) {
	t.Parallel()

	mask, err := ParseFieldMask([]string{"destination", "l7.dns.query"})
	if err != nil {
		t.Fatalf("ParseFieldMask: %v", err)
	}
	masked := mask.Apply(sampleFlow())
	if masked.Destination.PodName != "server" || masked.Destination.Port != 80 {
		t.Errorf("Destination = %+v, want the whole endpoint", masked.Destination)
	}
	// The sample has no DNS section, so the mask must not invent one.
	if masked.L7 != nil {
		t.Errorf("L7 = %+v, want nil", masked.L7)
	}
}

func TestFieldMaskEmpty(t *testing.T) {
	t.Parallel()

	mask, err := ParseFieldMask(nil)
	if err != nil {
		t.Fatalf("ParseFieldMask(nil): %v", err)
	}
	original := sampleFlow()
	if mask.Apply(original) != original {
		t.Error("empty mask should return the flow unchanged")
	}
}

func TestFieldMaskUnknownPath(t *testing.T) {
	t.Parallel()

	if _, err := ParseFieldMask([]string{"time", "source.mac"}); err == nil {
		t.Error("ParseFieldMask(source.mac) should fail")
	}
}

func TestFieldPathsIncludesEndpointFields(t *testing.T) {
	t.Parallel()

	paths := FieldPaths()
	for _, want := range []string{"source.ip", "destination.labels", "l7.http.method", "verdict"} {
		if !slices.Contains(paths, want) {
			t.Errorf("FieldPaths() missing %q", want)
		}
	}
	if !slices.IsSorted(paths) {
		t.Error("FieldPaths() is not sorted")
	}
}
