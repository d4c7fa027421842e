// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// DefaultMaxUnavailable caps the unavailable_nodes list.
const DefaultMaxUnavailable = 10

// errPeerTimeout is reported for a peer that did not answer within
// the per-peer timeout.
var errPeerTimeout = errors.New("peer status query timed out")

// Config configures an Aggregator.
type Config struct {
	Peers []Peer
	// Timeout bounds each peer's query independently.
	Timeout time.Duration
	// MaxUnavailable caps the names listed in unavailable_nodes. The
	// count in num_unavailable_nodes is never capped. Zero selects
	// DefaultMaxUnavailable.
	MaxUnavailable int
	// Version is reported as the relay's own version.
	Version string

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Aggregator merges status across peers.
type Aggregator struct {
	config Config
}

// New validates config and returns an Aggregator.
func New(config Config) (*Aggregator, error) {
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("relay: peer timeout must be positive, got %s", config.Timeout)
	}
	seen := make(map[string]bool, len(config.Peers))
	for _, peer := range config.Peers {
		if seen[peer.Name()] {
			return nil, fmt.Errorf("relay: duplicate peer name %q", peer.Name())
		}
		seen[peer.Name()] = true
	}
	if config.MaxUnavailable <= 0 {
		config.MaxUnavailable = DefaultMaxUnavailable
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{config: config}, nil
}

// Peers returns the configured peers.
func (a *Aggregator) Peers() []Peer { return a.config.Peers }

// PeerResult is one peer's answer to a status query.
type PeerResult struct {
	Peer   Peer
	Status flow.ServerStatusResponse
	// Err is nil when the peer answered in time.
	Err error
}

// Query asks every peer for its status in parallel. Each query gets
// its own timeout. Results are in peers order.
func (a *Aggregator) Query(ctx context.Context, peers []Peer) []PeerResult {
	results := make([]PeerResult, len(peers))
	done := make(chan struct{}, len(peers))
	for index, peer := range peers {
		go func() {
			results[index] = a.queryOne(ctx, peer)
			done <- struct{}{}
		}()
	}
	for range peers {
		<-done
	}
	return results
}

func (a *Aggregator) queryOne(ctx context.Context, peer Peer) PeerResult {
	start := a.config.Clock.Now()
	queryContext, cancel := context.WithCancel(ctx)
	defer cancel()

	type answer struct {
		status flow.ServerStatusResponse
		err    error
	}
	answers := make(chan answer, 1)
	go func() {
		status, err := peer.ServerStatus(queryContext)
		answers <- answer{status, err}
	}()

	result := PeerResult{Peer: peer}
	outcome := "ok"
	select {
	case reply := <-answers:
		result.Status, result.Err = reply.status, reply.err
		if reply.err != nil {
			outcome = "error"
		}
	case <-a.config.Clock.After(a.config.Timeout):
		result.Err = errPeerTimeout
		outcome = "timeout"
	case <-ctx.Done():
		result.Err = ctx.Err()
		outcome = "canceled"
	}
	a.config.Metrics.PeerQuery(outcome, a.config.Clock.Now().Sub(start))
	if result.Err != nil {
		a.config.Logger.Warn("peer status query failed",
			"peer", peer.Name(),
			"address", peer.Address(),
			"error", result.Err,
		)
	}
	return result
}

// GetAggregateStatus queries peers and merges their answers.
func (a *Aggregator) GetAggregateStatus(ctx context.Context, peers []Peer) flow.ServerStatusResponse {
	return a.merge(a.Query(ctx, peers))
}

// ServerStatus aggregates over the configured peers.
func (a *Aggregator) ServerStatus(ctx context.Context) flow.ServerStatusResponse {
	return a.GetAggregateStatus(ctx, a.config.Peers)
}

func (a *Aggregator) merge(results []PeerResult) flow.ServerStatusResponse {
	var connected, unavailable uint32
	aggregate := flow.ServerStatusResponse{Version: a.config.Version}
	for _, result := range results {
		if result.Err != nil {
			unavailable++
			if len(aggregate.UnavailableNodes) < a.config.MaxUnavailable {
				aggregate.UnavailableNodes = append(aggregate.UnavailableNodes, result.Peer.Name())
			}
			continue
		}
		connected++
		aggregate.NumFlows += result.Status.NumFlows
		aggregate.MaxFlows += result.Status.MaxFlows
		aggregate.SeenFlows += result.Status.SeenFlows
		aggregate.UptimeNS = max(aggregate.UptimeNS, result.Status.UptimeNS)
	}
	aggregate.NumConnectedNodes = &connected
	aggregate.NumUnavailableNodes = &unavailable
	return aggregate
}

// GetNodes reports every configured peer, unavailable ones included.
func (a *Aggregator) GetNodes(ctx context.Context) flow.GetNodesResponse {
	results := a.Query(ctx, a.config.Peers)
	nodes := make([]flow.Node, 0, len(results))
	for _, result := range results {
		node := flow.Node{
			Name:    result.Peer.Name(),
			Address: result.Peer.Address(),
			State:   flow.NodeUnavailable,
		}
		if result.Err == nil {
			node.State = flow.NodeConnected
			node.Version = result.Status.Version
			node.UptimeNS = result.Status.UptimeNS
			node.NumFlows = result.Status.NumFlows
			node.MaxFlows = result.Status.MaxFlows
			node.SeenFlows = result.Status.SeenFlows
		}
		nodes = append(nodes, node)
	}
	return flow.GetNodesResponse{Nodes: nodes}
}
