// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/bureau-foundation/flowscope/lib/config"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/lib/testutil"
)

// testServer runs the query and ingest sockets of a node until the
// test ends.
type testServer struct {
	node    *node
	queries *service.ServiceClient
	ingest  *service.ServiceClient
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.NodeName = "node-a"
	cfg.Buffer.Flows = 50
	cfg.SocketPath = testutil.SocketPath(t, "query.sock")
	cfg.IngestSocketPath = testutil.SocketPath(t, "ingest.sock")

	logger := slog.New(slog.DiscardHandler)
	n, err := newNode(cfg, logger, nil)
	if err != nil {
		t.Fatalf("newNode: %v", err)
	}

	queries := service.NewSocketServer(cfg.SocketPath, logger, nil)
	n.registerQueryActions(queries)
	ingest := service.NewSocketServer(cfg.IngestSocketPath, logger, service.SameUserOrRoot(service.CurrentUID()))
	ingest.HandleStream("ingest", n.handleIngest)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- queries.Serve(ctx) }()
	go func() { done <- ingest.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		for range 2 {
			testutil.RequireReceive(t, done, 10*time.Second, "socket server exit")
		}
	})
	testutil.RequireClosed(t, queries.Ready(), 5*time.Second, "query socket ready")
	testutil.RequireClosed(t, ingest.Ready(), 5*time.Second, "ingest socket ready")

	return &testServer{
		node:    n,
		queries: service.NewServiceClient(cfg.SocketPath),
		ingest:  service.NewServiceClient(cfg.IngestSocketPath),
	}
}

func (s *testServer) ingestFlows(t *testing.T, ctx context.Context, verdicts ...flow.Verdict) {
	t.Helper()
	stream, err := s.ingest.OpenStream(ctx, "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream(ingest): %v", err)
	}
	defer stream.Close()

	batch := flow.IngestBatch{Sequence: 1}
	for index, verdict := range verdicts {
		batch.Events = append(batch.Events, flow.Event{
			Flow: &flow.Flow{Verdict: verdict, Protocol: "tcp"},
			Time: int64(1000 + index),
		})
	}
	if err := stream.Send(batch); err != nil {
		t.Fatalf("sending batch: %v", err)
	}
	var ack service.StreamAck
	if err := stream.Receive(&ack); err != nil {
		t.Fatalf("reading batch ack: %v", err)
	}
	if !ack.OK {
		t.Fatalf("batch rejected: %s", ack.Error)
	}
}

func receiveFrame(t *testing.T, stream *service.ClientStream) flow.Frame {
	t.Helper()
	var frame flow.Frame
	if err := stream.Receive(&frame); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return frame
}

func TestIngestThenQuery(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	ctx := t.Context()

	server.ingestFlows(t, ctx, flow.VerdictForwarded, flow.VerdictDropped, flow.VerdictDropped)

	var status flow.ServerStatusResponse
	if err := server.queries.Call(ctx, "server_status", nil, &status); err != nil {
		t.Fatalf("server_status: %v", err)
	}
	if status.NumFlows != 3 || status.SeenFlows != 3 || status.MaxFlows != 50 {
		t.Errorf("server_status: got %+v, want 3 flows of 50", status)
	}

	var nodes flow.GetNodesResponse
	if err := server.queries.Call(ctx, "get_nodes", nil, &nodes); err != nil {
		t.Fatalf("get_nodes: %v", err)
	}
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].Name != "node-a" || nodes.Nodes[0].State != flow.NodeConnected {
		t.Errorf("get_nodes: got %+v", nodes.Nodes)
	}

	stream, err := server.queries.OpenStream(ctx, "get_flows", flow.GetFlowsRequest{
		Number:    5,
		Whitelist: []flow.FlowFilter{{Verdict: []string{"dropped"}}},
	})
	if err != nil {
		t.Fatalf("OpenStream(get_flows): %v", err)
	}
	defer stream.Close()

	for index := range 2 {
		frame := receiveFrame(t, stream)
		if frame.Type != flow.FrameEvent || frame.Event == nil || frame.Event.Flow == nil {
			t.Fatalf("frame %d: got %+v, want a flow event", index, frame)
		}
		if frame.Event.Flow.Verdict != flow.VerdictDropped || frame.Event.NodeName != "node-a" {
			t.Errorf("frame %d: got %+v", index, frame.Event)
		}
	}
	if frame := receiveFrame(t, stream); frame.Type != flow.FrameEnd {
		t.Fatalf("last frame: got %q, want end", frame.Type)
	}
}

func TestInvalidRequestIsRejectedBeforeStreaming(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)

	_, err := server.queries.OpenStream(t.Context(), "get_flows", flow.GetFlowsRequest{Number: 3, Since: 10})
	var serviceError *service.ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("OpenStream with number and since: got %v, want *service.ServiceError", err)
	}

	_, err = server.queries.OpenStream(t.Context(), "get_agent_events", flow.GetAgentEventsRequest{Follow: true, Until: 10})
	if !errors.As(err, &serviceError) {
		t.Fatalf("OpenStream with follow and until: got %v, want *service.ServiceError", err)
	}
}

func TestFollowDeliversLiveFlows(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	ctx := t.Context()

	stream, err := server.queries.OpenStream(ctx, "get_flows", flow.GetFlowsRequest{Follow: true})
	if err != nil {
		t.Fatalf("OpenStream(get_flows follow): %v", err)
	}
	defer stream.Close()

	server.ingestFlows(t, ctx, flow.VerdictAudit)

	frames := make(chan flow.Frame, 1)
	go func() {
		var frame flow.Frame
		if err := stream.Receive(&frame); err == nil {
			frames <- frame
		}
	}()
	frame := testutil.RequireReceive(t, frames, 5*time.Second, "live flow frame")
	if frame.Type != flow.FrameEvent || frame.Event.Flow == nil || frame.Event.Flow.Verdict != flow.VerdictAudit {
		t.Fatalf("live frame: got %+v, want the audited flow", frame)
	}
}

func TestIngestRejectsInvalidBatch(t *testing.T) {
	t.Parallel()
	server := startTestServer(t)
	ctx := t.Context()

	stream, err := server.ingest.OpenStream(ctx, "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream(ingest): %v", err)
	}
	defer stream.Close()

	invalid := flow.IngestBatch{Sequence: 7, Events: []flow.Event{{LostEvents: &flow.LostEvent{NumEventsLost: 1}}}}
	if err := stream.Send(invalid); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var ack service.StreamAck
	if err := stream.Receive(&ack); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if ack.OK || ack.Error == "" {
		t.Fatalf("ack for invalid batch: got %+v, want an error", ack)
	}

	// The stream stays usable after a rejected batch.
	valid := flow.IngestBatch{Sequence: 8, Events: []flow.Event{{Flow: &flow.Flow{}}}}
	if err := stream.Send(valid); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := stream.Receive(&ack); err != nil || !ack.OK {
		t.Fatalf("ack for valid batch: got %+v (%v), want ok", ack, err)
	}
	if got := server.node.observer.Flows().Seen(); got != 1 {
		t.Fatalf("flows appended: got %d, want 1", got)
	}
}
