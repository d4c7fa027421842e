// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/cmd/flowscope/cli"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

func statusCommand(ctx context.Context, out io.Writer) *cli.Command {
	var (
		conn   connection
		asJSON bool
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Print server or relay status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			conn.addFlags(flagSet, true)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func([]string) error {
			client, err := conn.client()
			if err != nil {
				return err
			}
			var status flow.ServerStatusResponse
			if err := client.Call(ctx, "server_status", nil, &status); err != nil {
				return err
			}
			if asJSON {
				return cli.WriteJSON(out, status)
			}
			return printStatus(out, status)
		},
	}
}

func printStatus(out io.Writer, status flow.ServerStatusResponse) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Version:\t%s\n", status.Version)
	fmt.Fprintf(tw, "Uptime:\t%s\n", formatDuration(status.UptimeNS))
	fmt.Fprintf(tw, "Flows:\t%d/%d (%.1f%% full)\n", status.NumFlows, status.MaxFlows, percent(status.NumFlows, status.MaxFlows))
	fmt.Fprintf(tw, "Seen flows:\t%d\n", status.SeenFlows)
	if status.NumConnectedNodes != nil {
		fmt.Fprintf(tw, "Connected nodes:\t%d\n", *status.NumConnectedNodes)
	}
	if status.NumUnavailableNodes != nil {
		fmt.Fprintf(tw, "Unavailable nodes:\t%d\n", *status.NumUnavailableNodes)
	}
	if len(status.UnavailableNodes) > 0 {
		fmt.Fprintf(tw, "  \t%s\n", strings.Join(status.UnavailableNodes, ", "))
	}
	return tw.Flush()
}

func percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}
