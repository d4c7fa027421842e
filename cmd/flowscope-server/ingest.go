// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/netutil"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/observer"
)

// handleIngest is the streaming handler for the "ingest" action. The
// capture pipeline streams IngestBatch values; each is appended and
// acknowledged. A batch that fails validation is rejected with an
// error ack and nothing from it is appended; the stream stays open.
//
// Wire protocol after the request:
//
//	Server  → Capture: StreamAck{OK: true}          (readiness signal)
//	Capture → Server:  IngestBatch
//	Server  → Capture: StreamAck{OK: true}          (or {Error: ...})
//	...
func (n *node) handleIngest(ctx context.Context, _ []byte, conn net.Conn) {
	encoder := codec.NewEncoder(conn)
	if err := encoder.Encode(service.StreamAck{OK: true}); err != nil {
		n.logger.Debug("ingest: failed to write ready signal", "error", err)
		return
	}

	credentials, _ := service.PeerCredentials(conn)
	n.logger.Info("ingest stream started", "peer_pid", credentials.PID)
	defer n.logger.Info("ingest stream ended", "peer_pid", credentials.PID)

	// Close the connection on shutdown to unblock the decode below.
	stop := service.WatchClose(ctx, conn)
	defer stop()

	decoder := codec.NewDecoder(conn)
	for {
		var batch flow.IngestBatch
		if err := decoder.Decode(&batch); err != nil {
			if ctx.Err() != nil || netutil.IsExpectedCloseError(err) {
				return
			}
			n.logger.Warn("ingest: decode failed, closing stream", "error", err)
			if err := encoder.Encode(service.StreamAck{Error: "decode error"}); err != nil {
				n.logger.Debug("ingest: writing decode error ack", "error", err)
			}
			return
		}

		ack := service.StreamAck{OK: true}
		accepted, err := n.observer.Ingest(batch)
		if err != nil {
			if !errors.Is(err, observer.ErrInvalidRequest) {
				n.logger.Error("ingest: batch failed", "sequence", batch.Sequence, "error", err)
			} else {
				n.logger.Warn("ingest: batch rejected", "sequence", batch.Sequence, "error", err)
			}
			ack = service.StreamAck{Error: err.Error()}
		} else {
			n.logger.Debug("batch ingested", "sequence", batch.Sequence, "events", accepted)
		}

		if err := encoder.Encode(ack); err != nil {
			n.logger.Debug("ingest: failed to write ack", "error", err)
			return
		}
	}
}
