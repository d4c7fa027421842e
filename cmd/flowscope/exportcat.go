// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/cmd/flowscope/cli"
	"github.com/bureau-foundation/flowscope/exporter"
)

func exportCatCommand(out io.Writer) *cli.Command {
	var (
		asJSON     bool
		headerOnly bool
	)
	return &cli.Command{
		Name:    "export-cat",
		Summary: "Decode and print an export file",
		Usage:   "flowscope export-cat [flags] <file>...",
		Description: `Decode export files written by flowscope-server, verifying every
chunk's hash, and print their events in file order. Rotated backups
(file.1, file.2, ...) are read the same way.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export-cat", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "print one JSON event per line")
			flagSet.BoolVar(&headerOnly, "header", false, "print only the file header")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one export file is required")
			}
			for _, path := range args {
				if err := catExport(out, path, asJSON, headerOnly); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// catExport streams one file chunk by chunk so large exports are not
// held in memory.
func catExport(out io.Writer, path string, asJSON, headerOnly bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader, err := exporter.NewReader(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	header := reader.Header()
	if headerOnly {
		if asJSON {
			return cli.WriteJSONLine(out, header)
		}
		_, err := fmt.Fprintf(out, "%s: node %s, created %s, format v%d\n",
			path, header.NodeName, formatTime(header.CreatedAt), header.Version)
		return err
	}

	for {
		events, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for index := range events {
			event := &events[index].Event
			if asJSON {
				err = cli.WriteJSONLine(out, event)
			} else {
				err = formatEvent(out, event)
			}
			if err != nil {
				return err
			}
		}
	}
}
