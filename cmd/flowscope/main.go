// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/flowscope/cmd/flowscope/cli"
	"github.com/bureau-foundation/flowscope/lib/process"
	"github.com/bureau-foundation/flowscope/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root(ctx, os.Stdout).Execute(os.Args[1:])
}

// root builds the command tree. Command output goes to out.
func root(ctx context.Context, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "flowscope",
		Summary: "Query flowscope servers and relays",
		Subcommands: []*cli.Command{
			observeCommand(ctx, out),
			statusCommand(ctx, out),
			nodesCommand(ctx, out),
			exportCatCommand(out),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					_, err := fmt.Fprintln(out, "flowscope "+version.Info())
					return err
				},
			},
		},
	}
}
