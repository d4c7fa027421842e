// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

const timeLayout = "Jan _2 15:04:05.000"

// formatEvent writes one line describing event.
func formatEvent(w io.Writer, event *flow.Event) error {
	stamp := formatTime(event.Time)
	var line string
	switch event.Kind() {
	case flow.KindFlow:
		line = formatFlow(event.Flow)
	case flow.KindLostEvents:
		lost := event.LostEvents
		line = fmt.Sprintf("EVENTS LOST: %d (%s", lost.NumEventsLost, lost.Source)
		if lost.Buffer != "" {
			line += ", " + lost.Buffer
		}
		line += ")"
	case flow.KindNodeStatus:
		status := event.NodeStatus
		line = fmt.Sprintf("NODE %s: %s", strings.ToUpper(status.StateChange.String()), strings.Join(status.NodeNames, ", "))
	case flow.KindAgentEvent:
		line = formatDetails(event.AgentEvent.Type, event.AgentEvent.Message, event.AgentEvent.Attributes)
	case flow.KindDebugEvent:
		debug := event.DebugEvent
		line = fmt.Sprintf("%s cpu=%d", debug.Type, debug.CPU)
		if debug.Source != "" {
			line += " source=" + debug.Source
		}
		if debug.Message != "" {
			line += ": " + debug.Message
		}
	default:
		line = "invalid event"
	}
	_, err := fmt.Fprintf(w, "%s  %s  %s\n", stamp, nodeColumn(event.NodeName), line)
	return err
}

func formatTime(nanos int64) string {
	if nanos == 0 {
		return strings.Repeat("-", len(timeLayout))
	}
	return flow.FromNanos(nanos).UTC().Format(timeLayout)
}

func nodeColumn(name string) string {
	if name == "" {
		return "-"
	}
	return name
}

// formatFlow renders "source -> destination protocol verdict summary".
func formatFlow(f *flow.Flow) string {
	var builder strings.Builder
	builder.WriteString(formatEndpoint(f.Source))
	if f.IsReply != nil && *f.IsReply {
		builder.WriteString(" <- ")
	} else {
		builder.WriteString(" -> ")
	}
	builder.WriteString(formatEndpoint(f.Destination))
	if f.Protocol != "" {
		builder.WriteString(" " + f.Protocol)
	}
	builder.WriteString(" " + strings.ToUpper(f.Verdict.String()))
	if f.DropReason != "" {
		builder.WriteString(" (" + f.DropReason + ")")
	}
	if summary := flowSummary(f); summary != "" {
		builder.WriteString(" " + summary)
	}
	return builder.String()
}

func formatEndpoint(e flow.Endpoint) string {
	name := e.PodPath()
	if name == "" {
		name = e.IP
	}
	if name == "" {
		name = "?"
	}
	if e.Port != 0 {
		name += ":" + strconv.FormatUint(uint64(e.Port), 10)
	}
	return name
}

func flowSummary(f *flow.Flow) string {
	if f.Summary != "" {
		return f.Summary
	}
	if f.L7 == nil {
		return ""
	}
	switch {
	case f.L7.HTTP != nil:
		http := f.L7.HTTP
		summary := strings.TrimSpace(http.Method + " " + http.URL)
		if http.Code != 0 {
			summary += " " + strconv.FormatUint(uint64(http.Code), 10)
		}
		return summary
	case f.L7.DNS != nil:
		return "DNS " + f.L7.DNS.Query
	}
	return ""
}

func formatDetails(kind, message string, attributes map[string]string) string {
	line := kind
	if message != "" {
		line += ": " + message
	}
	for _, key := range slices.Sorted(maps.Keys(attributes)) {
		line += " " + key + "=" + attributes[key]
	}
	return line
}

func formatDuration(nanos uint64) string {
	return time.Duration(nanos).Round(time.Second).String()
}
