// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/cmd/flowscope/cli"
	"github.com/bureau-foundation/flowscope/lib/filter"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/observer"
)

type observeParams struct {
	connection
	eventType  string
	last       uint64
	first      uint64
	follow     bool
	since      string
	until      string
	filterFile string
	fieldMask  []string
	json       bool
}

func observeCommand(ctx context.Context, out io.Writer) *cli.Command {
	var params observeParams
	return &cli.Command{
		Name:    "observe",
		Summary: "Stream flows, agent events, or debug events from a server",
		Description: `Stream events from a flowscope server.

Without --last, --first, --since, or --until, every retained event is
printed. --follow keeps the stream open for events recorded after the
request. Filters apply to flows only and are read from a JSONC file
with "whitelist" and "blacklist" lists.

--since and --until accept an RFC 3339 timestamp or a duration, which
is taken as that long ago.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("observe", pflag.ContinueOnError)
			params.addFlags(flagSet, false)
			flagSet.StringVarP(&params.eventType, "type", "t", "flows", "event stream: flows, agent, or debug")
			flagSet.Uint64VarP(&params.last, "last", "n", 0, "print the newest N events")
			flagSet.Uint64Var(&params.first, "first", 0, "print the oldest N events")
			flagSet.BoolVarP(&params.follow, "follow", "f", false, "keep streaming new events")
			flagSet.StringVar(&params.since, "since", "", "only events at or after this time")
			flagSet.StringVar(&params.until, "until", "", "only events before this time")
			flagSet.StringVar(&params.filterFile, "filter", "", "JSONC filter file (flows only)")
			flagSet.StringSliceVar(&params.fieldMask, "field-mask", nil, "flow fields to keep, e.g. time,verdict,source.pod_name")
			flagSet.BoolVar(&params.json, "json", false, "print one JSON event per line")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Last 20 flows", Command: "flowscope observe -n 20"},
			{Description: "Tail dropped flows", Command: "flowscope observe --follow --filter drops.jsonc"},
			{Description: "Agent events from the last five minutes", Command: "flowscope observe -t agent --since 5m"},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			action, request, err := params.request(time.Now())
			if err != nil {
				return err
			}
			client, err := params.client()
			if err != nil {
				return err
			}
			return observe(ctx, client, action, request, out, params.json)
		},
	}
}

// request builds the streaming action and its request from the flags.
func (p *observeParams) request(now time.Time) (string, any, error) {
	if p.last > 0 && p.first > 0 {
		return "", nil, fmt.Errorf("--last and --first are mutually exclusive")
	}
	number, first := p.last, false
	if p.first > 0 {
		number, first = p.first, true
	}
	since, err := parseTime(p.since, now)
	if err != nil {
		return "", nil, fmt.Errorf("--since: %w", err)
	}
	until, err := parseTime(p.until, now)
	if err != nil {
		return "", nil, fmt.Errorf("--until: %w", err)
	}

	switch p.eventType {
	case "flows", "flow":
		request := flow.GetFlowsRequest{
			Number: number,
			First:  first,
			Follow: p.follow,
			Since:  since,
			Until:  until,
		}
		if p.filterFile != "" {
			lists, err := filter.LoadFile(p.filterFile)
			if err != nil {
				return "", nil, err
			}
			// Compile locally so a bad filter fails before connecting.
			if _, err := lists.Engine(); err != nil {
				return "", nil, fmt.Errorf("%s: %w", p.filterFile, err)
			}
			request.Whitelist = lists.Whitelist
			request.Blacklist = lists.Blacklist
		}
		if len(p.fieldMask) > 0 {
			request.Experimental = &flow.Experimental{FieldMask: p.fieldMask}
		}
		return observer.StreamFlows, request, nil
	case "agent":
		if err := p.rejectFlowOnlyFlags(); err != nil {
			return "", nil, err
		}
		return observer.StreamAgentEvents, flow.GetAgentEventsRequest{
			Number: number, First: first, Follow: p.follow, Since: since, Until: until,
		}, nil
	case "debug":
		if err := p.rejectFlowOnlyFlags(); err != nil {
			return "", nil, err
		}
		return observer.StreamDebugEvents, flow.GetDebugEventsRequest{
			Number: number, First: first, Follow: p.follow, Since: since, Until: until,
		}, nil
	}
	return "", nil, fmt.Errorf("unknown --type %q (want flows, agent, or debug)", p.eventType)
}

func (p *observeParams) rejectFlowOnlyFlags() error {
	if p.filterFile != "" || len(p.fieldMask) > 0 {
		return fmt.Errorf("--filter and --field-mask apply to flows only")
	}
	return nil
}

// parseTime accepts an RFC 3339 timestamp or a duration before now.
// Empty means unset.
func parseTime(value string, now time.Time) (int64, error) {
	if value == "" {
		return 0, nil
	}
	if timestamp, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return flow.Nanos(timestamp), nil
	}
	ago, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%q is neither an RFC 3339 time nor a duration", value)
	}
	if ago < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return flow.Nanos(now.Add(-ago)), nil
}

// observe opens the stream and prints frames until the server ends
// it, reports an error, or ctx is cancelled.
func observe(ctx context.Context, client *service.ServiceClient, action string, request any, out io.Writer, asJSON bool) error {
	stream, err := client.OpenStream(ctx, action, request)
	if err != nil {
		var serviceError *service.ServiceError
		if errors.As(err, &serviceError) {
			return fmt.Errorf("request rejected: %s", strings.TrimSpace(serviceError.Message))
		}
		return err
	}
	defer stream.Close()

	for {
		var frame flow.Frame
		if err := stream.Receive(&frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading %s stream: %w", action, err)
		}
		switch frame.Type {
		case flow.FrameEnd:
			return nil
		case flow.FrameError:
			return fmt.Errorf("server ended the stream: %s", frame.Error)
		case flow.FrameEvent:
			if frame.Event == nil {
				continue
			}
			if asJSON {
				err = cli.WriteJSONLine(out, frame.Event)
			} else {
				err = formatEvent(out, frame.Event)
			}
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected frame type %q", frame.Type)
		}
	}
}
