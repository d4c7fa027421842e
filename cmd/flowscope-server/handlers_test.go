// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteFrameLogsUnexpectedFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		wantLog bool
	}{
		{name: "disk full", err: errors.New("no space left on device"), wantLog: true},
		{name: "client gone", err: net.ErrClosed, wantLog: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var logs bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
			encoder := codec.NewEncoder(failingWriter{err: test.err})

			if writeFrame(encoder, logger, flow.Frame{Type: flow.FrameError, Error: "session failed"}) {
				t.Fatal("writeFrame: got true, want false")
			}
			logged := strings.Contains(logs.String(), "writing frame")
			if logged != test.wantLog {
				t.Fatalf("logged: got %v, want %v (logs %q)", logged, test.wantLog, logs.String())
			}
			if test.wantLog && !strings.Contains(logs.String(), "type=error") {
				t.Errorf("log should name the frame type: %q", logs.String())
			}
		})
	}
}

func TestWriteFrameSucceeds(t *testing.T) {
	t.Parallel()
	var buffer bytes.Buffer
	if !writeFrame(codec.NewEncoder(&buffer), slog.New(slog.DiscardHandler), flow.Frame{Type: flow.FrameEnd}) {
		t.Fatal("writeFrame: got false, want true")
	}
	var frame flow.Frame
	if err := codec.NewDecoder(&buffer).Decode(&frame); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frame.Type != flow.FrameEnd {
		t.Errorf("Type: got %q, want %q", frame.Type, flow.FrameEnd)
	}
}
