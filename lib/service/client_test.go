// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/testutil"
)

type statusResult struct {
	NumFlows uint64 `json:"num_flows"`
	Version  string `json:"version"`
}

func TestClientCall(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)
	server.Handle("server_status", func(ctx context.Context, raw []byte) (any, error) {
		return statusResult{NumFlows: 7, Version: "v1.2.3"}, nil
	})
	startServer(t, server)

	var result statusResult
	if err := NewServiceClient(socketPath).Call(t.Context(), "server_status", nil, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.NumFlows != 7 || result.Version != "v1.2.3" {
		t.Errorf("result: got %+v", result)
	}
}

func TestClientCallStructRequest(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)

	type echoRequest struct {
		Value  int    `json:"value"`
		Filter string `json:"filter,omitempty"`
	}
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request echoRequest
		if err := codec.Unmarshal(raw, &request); err != nil {
			return nil, err
		}
		return request, nil
	})
	startServer(t, server)

	var result echoRequest
	err := NewServiceClient(socketPath).Call(t.Context(), "echo", echoRequest{Value: 9, Filter: "x"}, &result)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Value != 9 || result.Filter != "x" {
		t.Errorf("echo: got %+v", result)
	}
}

func TestClientCallServiceError(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)
	server.Handle("get_nodes", func(ctx context.Context, raw []byte) (any, error) {
		return nil, errors.New("relay has no peers")
	})
	startServer(t, server)

	err := NewServiceClient(socketPath).Call(t.Context(), "get_nodes", nil, nil)
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("got %T %v, want *ServiceError", err, err)
	}
	if serviceError.Action != "get_nodes" || serviceError.Message != "relay has no peers" {
		t.Errorf("ServiceError: got %+v", serviceError)
	}
}

func TestClientCallConnectionRefused(t *testing.T) {
	t.Parallel()

	client := NewServiceClient(testSocketPath(t))
	err := client.Call(context.Background(), "server_status", nil, nil)
	if err == nil {
		t.Fatal("expected error for missing socket")
	}
	var serviceError *ServiceError
	if errors.As(err, &serviceError) {
		t.Fatalf("connection failure should not be *ServiceError, got %v", serviceError)
	}
}

// A handler that never answers must not hold the caller past its
// context deadline.
func TestClientCallHonoursDeadline(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)
	release := make(chan struct{})
	server.Handle("server_status", func(ctx context.Context, raw []byte) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	startServer(t, server)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- NewServiceClient(socketPath).Call(ctx, "server_status", nil, nil)
	}()
	err := testutil.RequireReceive(t, result, 5*time.Second, "Call did not return after its deadline")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Call: got %v, want context.DeadlineExceeded", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)
	server.Handle("echo", func(ctx context.Context, raw []byte) (any, error) {
		var request struct {
			Value int `cbor:"value"`
		}
		codec.Unmarshal(raw, &request)
		return map[string]any{"value": request.Value}, nil
	})
	startServer(t, server)

	client := NewServiceClient(socketPath)
	const concurrency = 20
	var wg sync.WaitGroup
	for i := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result map[string]any
			if err := client.Call(t.Context(), "echo", map[string]any{"value": i}, &result); err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if result["value"] != uint64(i) {
				t.Errorf("call %d: got value %v, want %d", i, result["value"], i)
			}
		}()
	}
	wg.Wait()
}

func TestClientStreamBidirectional(t *testing.T) {
	t.Parallel()
	socketPath := testSocketPath(t)
	server := NewSocketServer(socketPath, testLogger(), nil)

	server.HandleStream("ingest", func(ctx context.Context, raw []byte, conn net.Conn) {
		encoder := codec.NewEncoder(conn)
		decoder := codec.NewDecoder(conn)
		if err := encoder.Encode(StreamAck{OK: true}); err != nil {
			return
		}
		for {
			var batch struct {
				Sequence uint64 `cbor:"sequence"`
			}
			if err := decoder.Decode(&batch); err != nil {
				return
			}
			encoder.Encode(StreamAck{OK: batch.Sequence%2 == 0, Error: "odd"})
		}
	})
	startServer(t, server)

	stream, err := NewServiceClient(socketPath).OpenStream(t.Context(), "ingest", nil)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer stream.Close()

	for sequence := range 4 {
		if err := stream.Send(map[string]any{"sequence": sequence}); err != nil {
			t.Fatalf("Send %d: %v", sequence, err)
		}
		var ack StreamAck
		if err := stream.Receive(&ack); err != nil {
			t.Fatalf("Receive %d: %v", sequence, err)
		}
		if ack.OK != (sequence%2 == 0) {
			t.Errorf("ack %d: got %+v", sequence, ack)
		}
	}
	if err := stream.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	stream.Close()
}

func TestNewLoggerFormats(t *testing.T) {
	t.Parallel()

	var text, json bytes.Buffer
	newLogger(&text, true, 0).Info("session opened", "stream", "get_flows")
	newLogger(&json, false, 0).Info("session opened", "stream", "get_flows")

	if !strings.Contains(text.String(), "stream=get_flows") {
		t.Errorf("terminal output should be text: %q", text.String())
	}
	if !strings.Contains(json.String(), `"stream":"get_flows"`) {
		t.Errorf("non-terminal output should be JSON: %q", json.String())
	}

	if _, err := ParseLevel("warn"); err != nil {
		t.Errorf("ParseLevel(warn): %v", err)
	}
	if _, err := ParseLevel("chatty"); err == nil {
		t.Error("ParseLevel(chatty) should fail")
	}
}

func TestSameUserOrRoot(t *testing.T) {
	t.Parallel()

	// net.Pipe has no kernel credentials, so the check fails closed.
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	if err := SameUserOrRoot(CurrentUID())(server); err == nil {
		t.Error("SameUserOrRoot should reject a non-unix connection")
	}
}
