// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package observer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/ringbuffer"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

func newObserver(t *testing.T, fake *clock.FakeClock) *Observer {
	t.Helper()
	flows, err := ringbuffer.New[*flow.Flow](100)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	agentEvents, err := ringbuffer.New[*flow.AgentEvent](10)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	debugEvents, err := ringbuffer.New[*flow.DebugEvent](10)
	if err != nil {
		t.Fatalf("ringbuffer.New: %v", err)
	}
	o, err := New(Config{
		NodeName:    "node-a",
		Version:     "v1.2.3",
		Address:     "/run/flowscope/node-a.sock",
		Flows:       flows,
		AgentEvents: agentEvents,
		DebugEvents: debugEvents,
		Clock:       fake,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func flowEvent(verdict flow.Verdict, pod string, timestamp int64) flow.Event {
	return flow.Event{
		Flow: &flow.Flow{
			Verdict:  verdict,
			Protocol: "tcp",
			Source:   flow.Endpoint{IP: "10.0.0.1", Namespace: "default", PodName: pod},
		},
		Time: timestamp,
	}
}

func collectFlows(t *testing.T, session *Session[*flow.Flow]) []*flow.Flow {
	t.Helper()
	var flows []*flow.Flow
	for {
		event, err := session.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return flows
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if event.Kind() != flow.KindFlow {
			t.Fatalf("unexpected event kind %s", event.Kind())
		}
		flows = append(flows, event.Flow)
	}
}

func TestIngestStampsFlows(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Unix(100, 0))
	o := newObserver(t, fake)

	batch := flow.IngestBatch{Sequence: 1, Events: []flow.Event{
		flowEvent(flow.VerdictForwarded, "web", 5000),
		{Flow: &flow.Flow{UUID: "fixed", Time: 6000}},
		{Flow: &flow.Flow{}},
		{AgentEvent: &flow.AgentEvent{Type: "policy_updated"}},
		{DebugEvent: &flow.DebugEvent{Type: "drop", CPU: 3}, Time: 7000},
	}}
	accepted, err := o.Ingest(batch)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if accepted != 5 {
		t.Fatalf("Ingest accepted %d, want 5", accepted)
	}

	flows := collectFlows(t, mustOpenFlows(t, o, flow.GetFlowsRequest{}))
	if len(flows) != 3 {
		t.Fatalf("flows: got %d, want 3", len(flows))
	}
	for index, f := range flows {
		if f.NodeName != "node-a" {
			t.Errorf("flow %d NodeName: got %q, want node-a", index, f.NodeName)
		}
		if f.UUID == "" {
			t.Errorf("flow %d has no UUID", index)
		}
	}
	if flows[1].UUID != "fixed" {
		t.Errorf("existing UUID: got %q, want fixed", flows[1].UUID)
	}
	wantTimes := []int64{5000, 6000, time.Unix(100, 0).UnixNano()}
	for index, want := range wantTimes {
		if flows[index].Time != want {
			t.Errorf("flow %d Time: got %d, want %d", index, flows[index].Time, want)
		}
	}
	if batch.Events[0].Flow.NodeName != "" {
		t.Error("Ingest modified the caller's flow")
	}

	if got := o.AgentEvents().Len(); got != 1 {
		t.Errorf("agent events: got %d, want 1", got)
	}
	if got := o.DebugEvents().Len(); got != 1 {
		t.Errorf("debug events: got %d, want 1", got)
	}
}

func TestIngestRejectsWholeBatch(t *testing.T) {
	t.Parallel()
	o := newObserver(t, clock.Fake(time.Unix(100, 0)))

	tests := []struct {
		name  string
		event flow.Event
	}{
		{"no variant", flow.Event{}},
		{"two variants", flow.Event{Flow: &flow.Flow{}, AgentEvent: &flow.AgentEvent{}}},
		{"node status", flow.Event{NodeStatus: &flow.NodeStatusEvent{}}},
		{"lost events", flow.Event{LostEvents: &flow.LostEvent{}}},
	}
	for _, test := range tests {
		_, err := o.Ingest(flow.IngestBatch{Events: []flow.Event{
			flowEvent(flow.VerdictForwarded, "web", 1),
			test.event,
		}})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: Ingest error %v, want ErrInvalidRequest", test.name, err)
		}
	}
	if got := o.Flows().Seen(); got != 0 {
		t.Fatalf("flows appended from rejected batches: got %d, want 0", got)
	}
}

func mustOpenFlows(t *testing.T, o *Observer, request flow.GetFlowsRequest) *Session[*flow.Flow] {
	t.Helper()
	session, err := o.OpenFlows(request)
	if err != nil {
		t.Fatalf("OpenFlows(%+v): %v", request, err)
	}
	return session
}

func TestOpenFlowsFilters(t *testing.T) {
	t.Parallel()
	o := newObserver(t, clock.Fake(time.Unix(100, 0)))
	_, err := o.Ingest(flow.IngestBatch{Events: []flow.Event{
		flowEvent(flow.VerdictForwarded, "web", 1),
		flowEvent(flow.VerdictDropped, "web", 2),
		flowEvent(flow.VerdictDropped, "db", 3),
		flowEvent(flow.VerdictForwarded, "db", 4),
	}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	flows := collectFlows(t, mustOpenFlows(t, o, flow.GetFlowsRequest{
		Whitelist: []flow.FlowFilter{{Verdict: []string{"dropped"}}},
		Blacklist: []flow.FlowFilter{{SourcePod: []string{"default/db"}}},
	}))
	if len(flows) != 1 || flows[0].Time != 2 {
		t.Fatalf("filtered flows: got %d, want only the web drop at time 2", len(flows))
	}
}

func TestOpenFlowsFieldMask(t *testing.T) {
	t.Parallel()
	o := newObserver(t, clock.Fake(time.Unix(100, 0)))
	if _, err := o.Ingest(flow.IngestBatch{Events: []flow.Event{flowEvent(flow.VerdictDropped, "web", 9)}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	flows := collectFlows(t, mustOpenFlows(t, o, flow.GetFlowsRequest{
		Experimental: &flow.Experimental{FieldMask: []string{"verdict", "time"}},
	}))
	if len(flows) != 1 {
		t.Fatalf("flows: got %d, want 1", len(flows))
	}
	masked := flows[0]
	if masked.Verdict != flow.VerdictDropped || masked.Time != 9 {
		t.Errorf("masked flow lost selected fields: %+v", masked)
	}
	if masked.Protocol != "" || masked.Source.PodName != "" || masked.UUID != "" {
		t.Errorf("masked flow kept unselected fields: %+v", masked)
	}
	// The stored record is untouched.
	if stored := collectFlows(t, mustOpenFlows(t, o, flow.GetFlowsRequest{})); stored[0].Protocol != "tcp" {
		t.Errorf("stored flow was modified: %+v", stored[0])
	}
}

func TestOpenRejectsInvalidRequests(t *testing.T) {
	t.Parallel()
	o := newObserver(t, clock.Fake(time.Unix(100, 0)))

	flowRequests := map[string]flow.GetFlowsRequest{
		"number and since": {Number: 1, Since: 5},
		"follow and until": {Follow: true, Until: 5},
		"bad filter":       {Whitelist: []flow.FlowFilter{{SourceIP: []string{"not-an-ip"}}}},
		"bad field mask":   {Experimental: &flow.Experimental{FieldMask: []string{"nonsense"}}},
	}
	for name, request := range flowRequests {
		if _, err := o.OpenFlows(request); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("OpenFlows %s: got %v, want ErrInvalidRequest", name, err)
		}
	}
	if _, err := o.OpenAgentEvents(flow.GetAgentEventsRequest{Follow: true, Until: 5}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("OpenAgentEvents: got %v, want ErrInvalidRequest", err)
	}
	if _, err := o.OpenDebugEvents(flow.GetDebugEventsRequest{Number: 1, Until: 5}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("OpenDebugEvents: got %v, want ErrInvalidRequest", err)
	}
}

func TestAgentAndDebugSessions(t *testing.T) {
	t.Parallel()
	o := newObserver(t, clock.Fake(time.Unix(100, 0)))
	if _, err := o.Ingest(flow.IngestBatch{Events: []flow.Event{
		{AgentEvent: &flow.AgentEvent{Type: "endpoint_created"}, Time: 10},
		{AgentEvent: &flow.AgentEvent{Type: "endpoint_deleted"}, Time: 20},
		{DebugEvent: &flow.DebugEvent{Type: "drop"}, Time: 30},
	}}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	agent, err := o.OpenAgentEvents(flow.GetAgentEventsRequest{Number: 1})
	if err != nil {
		t.Fatalf("OpenAgentEvents: %v", err)
	}
	event, err := agent.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Kind() != flow.KindAgentEvent || event.AgentEvent.Type != "endpoint_deleted" || event.Time != 20 {
		t.Fatalf("agent event: got %+v, want the newest (endpoint_deleted at 20)", event)
	}

	debug, err := o.OpenDebugEvents(flow.GetDebugEventsRequest{})
	if err != nil {
		t.Fatalf("OpenDebugEvents: %v", err)
	}
	event, err = debug.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if event.Kind() != flow.KindDebugEvent || event.NodeName != "node-a" {
		t.Fatalf("debug event: got %+v", event)
	}
}

func TestServerStatusAndNode(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Unix(100, 0))
	o := newObserver(t, fake)
	for range 3 {
		if _, err := o.Ingest(flow.IngestBatch{Events: []flow.Event{flowEvent(flow.VerdictForwarded, "web", 1)}}); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	fake.Advance(90 * time.Second)

	status := o.ServerStatus()
	if status.NumFlows != 3 || status.SeenFlows != 3 || status.MaxFlows != 100 {
		t.Errorf("counters: got num=%d seen=%d max=%d, want 3/3/100", status.NumFlows, status.SeenFlows, status.MaxFlows)
	}
	if status.UptimeNS != uint64(90*time.Second) {
		t.Errorf("UptimeNS: got %d, want %d", status.UptimeNS, uint64(90*time.Second))
	}
	if status.NumConnectedNodes != nil || status.NumUnavailableNodes != nil {
		t.Error("a single node must leave node counts unset")
	}

	node := o.Node()
	if node.Name != "node-a" || node.State != flow.NodeConnected || node.Version != "v1.2.3" {
		t.Errorf("Node: got %+v", node)
	}
}
