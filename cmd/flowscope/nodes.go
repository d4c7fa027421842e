// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/cmd/flowscope/cli"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

func nodesCommand(ctx context.Context, out io.Writer) *cli.Command {
	var (
		conn   connection
		asJSON bool
	)
	return &cli.Command{
		Name:    "nodes",
		Summary: "List nodes and their state",
		Description: `List the nodes known to a relay, or the local server when --relay
is not given. Exits with status 1 when any node is unavailable.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("nodes", pflag.ContinueOnError)
			conn.addFlags(flagSet, true)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func([]string) error {
			client, err := conn.client()
			if err != nil {
				return err
			}
			var response flow.GetNodesResponse
			if err := client.Call(ctx, "get_nodes", nil, &response); err != nil {
				return err
			}
			if asJSON {
				err = cli.WriteJSON(out, response.Nodes)
			} else {
				err = printNodes(out, response.Nodes)
			}
			if err != nil {
				return err
			}
			for _, node := range response.Nodes {
				if node.State != flow.NodeConnected {
					return &cli.ExitError{Code: 1}
				}
			}
			return nil
		},
	}
}

func printNodes(out io.Writer, nodes []flow.Node) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tVERSION\tUPTIME\tFLOWS\tSEEN\tTLS")
	for _, node := range nodes {
		uptime, flows := "-", "-"
		if node.State == flow.NodeConnected {
			uptime = formatDuration(node.UptimeNS)
			flows = fmt.Sprintf("%d/%d", node.NumFlows, node.MaxFlows)
		}
		tls := "-"
		if node.TLS != nil && node.TLS.Enabled {
			tls = node.TLS.ServerName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			node.Name, node.State, dash(node.Version), uptime, flows, node.SeenFlows, dash(tls))
	}
	return tw.Flush()
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
