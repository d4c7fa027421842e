// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/flowscope/lib/config"
	"github.com/bureau-foundation/flowscope/lib/service"
)

// connection selects the socket a command talks to: --socket when
// set, otherwise the server or relay socket from the configuration.
type connection struct {
	configPath string
	socketPath string
	relay      bool
}

func (c *connection) addFlags(flagSet *pflag.FlagSet, relayFlag bool) {
	flagSet.StringVar(&c.configPath, "config", "", "path to flowscope.yaml (default: $"+config.EnvironmentVariable+", then built-in defaults)")
	flagSet.StringVar(&c.socketPath, "socket", "", "socket to connect to (overrides the configuration)")
	if relayFlag {
		flagSet.BoolVar(&c.relay, "relay", false, "talk to the relay socket instead of the local server")
	}
}

func (c *connection) client() (*service.ServiceClient, error) {
	if c.socketPath != "" {
		return service.NewServiceClient(c.socketPath), nil
	}
	cfg, err := config.Resolve(c.configPath)
	if err != nil {
		return nil, err
	}
	if c.relay {
		return service.NewServiceClient(cfg.Relay.SocketPath), nil
	}
	return service.NewServiceClient(cfg.SocketPath), nil
}
