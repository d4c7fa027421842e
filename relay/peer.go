// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"

	"github.com/bureau-foundation/flowscope/lib/schema/flow"
	"github.com/bureau-foundation/flowscope/lib/service"
	"github.com/bureau-foundation/flowscope/observer"
)

// Peer is one node the relay aggregates over.
type Peer interface {
	Name() string
	Address() string
	// ServerStatus returns the node's own status. It must return
	// promptly once ctx is done.
	ServerStatus(ctx context.Context) (flow.ServerStatusResponse, error)
}

// SocketPeer reaches a remote flowscope-server over its socket.
type SocketPeer struct {
	name   string
	client *service.ServiceClient
}

// NewSocketPeer returns a peer that calls "server_status" on the
// server listening at socketPath.
func NewSocketPeer(name, socketPath string) *SocketPeer {
	return &SocketPeer{name: name, client: service.NewServiceClient(socketPath)}
}

func (p *SocketPeer) Name() string    { return p.name }
func (p *SocketPeer) Address() string { return p.client.SocketPath() }

func (p *SocketPeer) ServerStatus(ctx context.Context) (flow.ServerStatusResponse, error) {
	var status flow.ServerStatusResponse
	err := p.client.Call(ctx, "server_status", nil, &status)
	return status, err
}

// LocalPeer is a node served from the same process.
type LocalPeer struct {
	observer *observer.Observer
	address  string
}

// NewLocalPeer wraps an in-process observer.
func NewLocalPeer(o *observer.Observer, address string) *LocalPeer {
	return &LocalPeer{observer: o, address: address}
}

func (p *LocalPeer) Name() string    { return p.observer.NodeName() }
func (p *LocalPeer) Address() string { return p.address }

func (p *LocalPeer) ServerStatus(ctx context.Context) (flow.ServerStatusResponse, error) {
	if err := ctx.Err(); err != nil {
		return flow.ServerStatusResponse{}, err
	}
	return p.observer.ServerStatus(), nil
}
