// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/netutil"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/observer"
)

func (n *node) registerQueryActions(server *service.SocketServer) {
	server.Handle("server_status", n.handleServerStatus)
	server.Handle("get_nodes", n.handleGetNodes)
	server.HandleStream("get_flows", n.handleGetFlows)
	server.HandleStream("get_agent_events", n.handleGetAgentEvents)
	server.HandleStream("get_debug_events", n.handleGetDebugEvents)
}

func (n *node) handleServerStatus(_ context.Context, _ []byte) (any, error) {
	return n.observer.ServerStatus(), nil
}

func (n *node) handleGetNodes(_ context.Context, _ []byte) (any, error) {
	return flow.GetNodesResponse{Nodes: []flow.Node{n.observer.Node()}}, nil
}

func (n *node) handleGetFlows(ctx context.Context, raw []byte, conn net.Conn) {
	var request flow.GetFlowsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		rejectStream(conn, n.logger, observer.StreamFlows, err)
		return
	}
	session, err := n.observer.OpenFlows(request)
	if err != nil {
		rejectStream(conn, n.logger, observer.StreamFlows, err)
		return
	}
	serveSession(ctx, conn, n.logger.With("stream", observer.StreamFlows, "follow", request.Follow), session)
}

func (n *node) handleGetAgentEvents(ctx context.Context, raw []byte, conn net.Conn) {
	var request flow.GetAgentEventsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		rejectStream(conn, n.logger, observer.StreamAgentEvents, err)
		return
	}
	session, err := n.observer.OpenAgentEvents(request)
	if err != nil {
		rejectStream(conn, n.logger, observer.StreamAgentEvents, err)
		return
	}
	serveSession(ctx, conn, n.logger.With("stream", observer.StreamAgentEvents, "follow", request.Follow), session)
}

func (n *node) handleGetDebugEvents(ctx context.Context, raw []byte, conn net.Conn) {
	var request flow.GetDebugEventsRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		rejectStream(conn, n.logger, observer.StreamDebugEvents, err)
		return
	}
	session, err := n.observer.OpenDebugEvents(request)
	if err != nil {
		rejectStream(conn, n.logger, observer.StreamDebugEvents, err)
		return
	}
	serveSession(ctx, conn, n.logger.With("stream", observer.StreamDebugEvents, "follow", request.Follow), session)
}

// rejectStream answers a stream request that failed before a session
// existed. No frames follow.
func rejectStream(conn net.Conn, logger *slog.Logger, stream string, err error) {
	logger.Info("stream request rejected", "stream", stream, "error", err)
	if encodeErr := codec.NewEncoder(conn).Encode(service.StreamAck{Error: err.Error()}); encodeErr != nil {
		logger.Debug("writing stream rejection", "stream", stream, "error", encodeErr)
	}
}

// serveSession acks the request and writes the session's events as
// frames until the session ends, the client disconnects, or ctx is
// done.
//
// Wire protocol after the request:
//
//	Server → Client: StreamAck{OK: true}
//	Server → Client: Frame{Type: "event", Event: ...}   (repeated)
//	Server → Client: Frame{Type: "end"}                 (bounded requests)
func serveSession[T any](ctx context.Context, conn net.Conn, logger *slog.Logger, session *observer.Session[T]) {
	defer session.Close()

	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		logger.Debug("writing stream ack", "error", err)
		return
	}

	// A client disconnect cancels the session; cancellation closes
	// the connection so a write blocked on a slow client returns.
	ctx, cancel := service.WatchPeerClose(ctx, conn)
	defer cancel()
	stopWatch := service.WatchClose(ctx, conn)
	defer stopWatch()

	logger.Info("session started")
	sent := 0
	defer func() {
		logger.Info("session ended", "events", sent)
	}()

	for {
		event, err := session.Next(ctx)
		if errors.Is(err, io.EOF) {
			writeFrame(encoder, logger, flow.Frame{Type: flow.FrameEnd})
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				writeFrame(encoder, logger, flow.Frame{Type: flow.FrameError, Error: err.Error()})
			}
			return
		}
		if !writeFrame(encoder, logger, flow.Frame{Type: flow.FrameEvent, Event: &event}) {
			return
		}
		sent++
	}
}

// writeFrame encodes frame and reports whether it was written. Write
// failures other than the client going away are logged at Debug.
func writeFrame(encoder *codec.Encoder, logger *slog.Logger, frame flow.Frame) bool {
	if err := encoder.Encode(frame); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			logger.Debug("writing frame", "type", frame.Type, "error", err)
		}
		return false
	}
	return true
}
