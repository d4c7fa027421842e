// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"net"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/netutil"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
)

func (r *relayServer) handleServerStatus(ctx context.Context, _ []byte) (any, error) {
	return r.aggregator.ServerStatus(ctx), nil
}

func (r *relayServer) handleGetNodes(ctx context.Context, _ []byte) (any, error) {
	return r.aggregator.GetNodes(ctx), nil
}

// handleWatchNodes streams node status changes until the client
// disconnects. Changes published while the client's queue was full
// are reported as a lost_events frame.
//
// Wire protocol after the request:
//
//	Server → Client: StreamAck{OK: true}
//	Server → Client: Frame{Type: "event", Event: {node_status: ...}}  (repeated)
func (r *relayServer) handleWatchNodes(ctx context.Context, _ []byte, conn net.Conn) {
	subscription := r.nodes.Subscribe()
	defer subscription.Unsubscribe()

	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		r.logger.Debug("watch_nodes: writing ack", "error", err)
		return
	}

	ctx, cancel := service.WatchPeerClose(ctx, conn)
	defer cancel()
	stopWatch := service.WatchClose(ctx, conn)
	defer stopWatch()

	r.logger.Info("node watch started")
	defer r.logger.Info("node watch ended")

	for {
		var event flow.Event
		select {
		case <-ctx.Done():
			return
		case status := <-subscription.C():
			if dropped := subscription.TakeDropped(); dropped > 0 {
				lost := flow.Event{
					LostEvents: &flow.LostEvent{
						Source:        flow.LostSourceEventsQueue,
						Buffer:        "node_status",
						NumEventsLost: dropped,
					},
					Time: flow.Nanos(r.clock.Now()),
				}
				if !r.writeFrame(encoder, lost) {
					return
				}
			}
			event = flow.Event{NodeStatus: &status, Time: flow.Nanos(r.clock.Now())}
		}
		if !r.writeFrame(encoder, event) {
			return
		}
	}
}

func (r *relayServer) writeFrame(encoder *codec.Encoder, event flow.Event) bool {
	if err := encoder.Encode(flow.Frame{Type: flow.FrameEvent, Event: &event}); err != nil {
		if !netutil.IsExpectedCloseError(err) {
			r.logger.Debug("watch_nodes: writing frame", "error", err)
		}
		return false
	}
	return true
}
