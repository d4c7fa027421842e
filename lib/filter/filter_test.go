// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

func boolPtr(b bool) *bool { return &b }

func httpFlow() *flow.Flow {
	return &flow.Flow{
		UUID:     "abc",
		NodeName: "prod/node-3",
		Verdict:  flow.VerdictDropped,
		Type:     flow.TypeL7,
		Protocol: "TCP",
		Source: flow.Endpoint{
			IP: "10.1.2.3", Port: 40000, Namespace: "frontend", PodName: "web-7f9",
			Labels: []string{"app=web", "tier=front"},
		},
		Destination: flow.Endpoint{
			IP: "192.168.5.9", Port: 8080, Namespace: "payments", PodName: "api-0",
			Labels: []string{"app=api"},
		},
		TrafficDirection: flow.DirectionEgress,
		IsReply:          boolPtr(false),
		L7:               &flow.L7{HTTP: &flow.HTTP{Method: "post", Code: 503}},
	}
}

func dnsFlow() *flow.Flow {
	return &flow.Flow{
		NodeName: "dev/node-1",
		Verdict:  flow.VerdictForwarded,
		Type:     flow.TypeL7,
		Protocol: "udp",
		Source:   flow.Endpoint{IP: "::ffff:10.9.9.9", Port: 5353},
		L7:       &flow.L7{DNS: &flow.DNS{Query: "api.example.com."}},
	}
}

func TestCompileVocabulary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		filter flow.FlowFilter
		http   bool
		dns    bool
	}{
		{"empty matches all", flow.FlowFilter{}, true, true},
		{"uuid", flow.FlowFilter{UUID: []string{"abc", "def"}}, true, false},
		{"source cidr", flow.FlowFilter{SourceIP: []string{"10.0.0.0/8"}}, true, true},
		{"source exact ip", flow.FlowFilter{SourceIP: []string{"10.1.2.3"}}, true, false},
		{"destination ip miss", flow.FlowFilter{DestinationIP: []string{"10.0.0.0/8"}}, false, false},
		{"source pod glob", flow.FlowFilter{SourcePod: []string{"frontend/web-*"}}, true, false},
		{"destination pod any namespace", flow.FlowFilter{DestinationPod: []string{"api-0"}}, true, false},
		{"label presence", flow.FlowFilter{SourceLabel: []string{"tier"}}, true, false},
		{"label value", flow.FlowFilter{DestinationLabel: []string{"app=api"}}, true, false},
		{"label value miss", flow.FlowFilter{DestinationLabel: []string{"app=web"}}, false, false},
		{"destination port", flow.FlowFilter{DestinationPort: []string{"8080", "443"}}, true, false},
		{"protocol case-insensitive", flow.FlowFilter{Protocol: []string{"tcp"}}, true, false},
		{"verdict", flow.FlowFilter{Verdict: []string{"forwarded"}}, false, true},
		{"direction", flow.FlowFilter{TrafficDirection: []string{"egress"}}, true, false},
		{"event type", flow.FlowFilter{EventType: []string{"l7"}}, true, true},
		{"node name glob", flow.FlowFilter{NodeName: []string{"prod/**"}}, true, false},
		{"reply false", flow.FlowFilter{Reply: []bool{false}}, true, false},
		{"status class", flow.FlowFilter{HTTPStatusCode: []string{"5+"}}, true, false},
		{"status exact miss", flow.FlowFilter{HTTPStatusCode: []string{"404"}}, false, false},
		{"http method", flow.FlowFilter{HTTPMethod: []string{"POST"}}, true, false},
		{"dns query glob", flow.FlowFilter{DNSQuery: []string{"*.example.com"}}, false, true},
		{"fields AND", flow.FlowFilter{Verdict: []string{"dropped"}, Protocol: []string{"udp"}}, false, false},
		{"values OR", flow.FlowFilter{Protocol: []string{"udp", "tcp"}}, true, true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			predicate, err := Compile(test.filter)
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if got := predicate(httpFlow()); got != test.http {
				t.Errorf("http flow: got %v, want %v", got, test.http)
			}
			if got := predicate(dnsFlow()); got != test.dns {
				t.Errorf("dns flow: got %v, want %v", got, test.dns)
			}
		})
	}
}

func TestBuildRejectsMalformedFilters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		filter flow.FlowFilter
		want   string
	}{
		{"bad cidr", flow.FlowFilter{SourceIP: []string{"10.0.0.0/33"}}, "source_ip"},
		{"bad ip", flow.FlowFilter{DestinationIP: []string{"not-an-ip"}}, "destination_ip"},
		{"bad glob", flow.FlowFilter{SourcePod: []string{"ns/[a"}}, "source_pod"},
		{"double star", flow.FlowFilter{NodeName: []string{"**/x/**"}}, "node_name"},
		{"bad port", flow.FlowFilter{SourcePort: []string{"70000"}}, "source_port"},
		{"bad protocol", flow.FlowFilter{Protocol: []string{"quic"}}, "protocol"},
		{"bad verdict", flow.FlowFilter{Verdict: []string{"maybe"}}, "verdict"},
		{"bad direction", flow.FlowFilter{TrafficDirection: []string{"sideways"}}, "traffic_direction"},
		{"bad event type", flow.FlowFilter{EventType: []string{"l9"}}, "event_type"},
		{"bad status", flow.FlowFilter{HTTPStatusCode: []string{"6+"}}, "http_status_code"},
		{"status out of range", flow.FlowFilter{HTTPStatusCode: []string{"42"}}, "http_status_code"},
		{"empty label key", flow.FlowFilter{SourceLabel: []string{"=v"}}, "source_label"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(nil, []flow.FlowFilter{{}, test.filter})
			if err == nil {
				t.Fatal("Build should fail")
			}
			if !strings.Contains(err.Error(), "blacklist[1]") || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error %q should name blacklist[1] and %s", err, test.want)
			}
		})
	}
}

func TestEngineWhitelistBlacklist(t *testing.T) {
	t.Parallel()

	engine, err := Build(
		[]flow.FlowFilter{{Protocol: []string{"tcp"}}, {Protocol: []string{"udp"}}},
		[]flow.FlowFilter{{Verdict: []string{"dropped"}}},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if engine.Match(httpFlow()) {
		t.Error("dropped flow should be blacklisted")
	}
	if !engine.Match(dnsFlow()) {
		t.Error("forwarded udp flow should match")
	}

	var nilEngine *Engine
	if !nilEngine.Match(httpFlow()) || !nilEngine.Empty() {
		t.Error("nil engine should match everything")
	}
}

func TestBuildWithExtraBuilder(t *testing.T) {
	t.Parallel()

	onlyDrops := func(filter flow.FlowFilter) (Predicate, error) {
		if len(filter.UUID) == 0 {
			return nil, nil
		}
		return func(f *flow.Flow) bool { return f.DropReason != "" }, nil
	}
	engine, err := BuildWith([]flow.FlowFilter{{UUID: []string{"abc"}}}, nil, []Builder{onlyDrops})
	if err != nil {
		t.Fatalf("BuildWith: %v", err)
	}
	record := httpFlow()
	if engine.Match(record) {
		t.Error("extra builder predicate should be ANDed in")
	}
	record.DropReason = "POLICY_DENIED"
	if !engine.Match(record) {
		t.Error("flow satisfying both predicates should match")
	}
}

// The engine's result equals (whitelist empty OR any whitelist) AND
// NOT any blacklist, for random predicate lists and records.
func TestEngineMatchesFormula(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	const records = 16

	// Each predicate accepts a random subset of record IDs, where
	// the record ID is carried in Flow.Source.Port.
	randomPredicates := func() ([]Predicate, [][records]bool) {
		count := rng.IntN(4)
		predicates := make([]Predicate, count)
		truth := make([][records]bool, count)
		for i := range count {
			var accepts [records]bool
			for id := range records {
				accepts[id] = rng.IntN(3) == 0
			}
			truth[i] = accepts
			predicates[i] = func(f *flow.Flow) bool { return accepts[f.Source.Port] }
		}
		return predicates, truth
	}

	for trial := range 500 {
		whitelist, whiteTruth := randomPredicates()
		blacklist, blackTruth := randomPredicates()
		engine := New(whitelist, blacklist)

		for id := range records {
			inWhite := len(whiteTruth) == 0
			for _, accepts := range whiteTruth {
				inWhite = inWhite || accepts[id]
			}
			inBlack := false
			for _, accepts := range blackTruth {
				inBlack = inBlack || accepts[id]
			}
			want := inWhite && !inBlack

			got := engine.Match(&flow.Flow{Source: flow.Endpoint{Port: uint16(id)}})
			if got != want {
				t.Fatalf("trial %d record %d: got %v, want %v", trial, id, got, want)
			}
		}
	}
}

func TestEngineShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	counted := func(result bool) Predicate {
		return func(*flow.Flow) bool {
			calls++
			return result
		}
	}
	engine := New(
		[]Predicate{counted(true), counted(true)},
		[]Predicate{counted(true), counted(true)},
	)
	engine.Match(&flow.Flow{})
	if calls != 2 {
		t.Errorf("predicate calls: got %d, want 2", calls)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "filter.jsonc")
	content := `{
		// payments traffic only
		"whitelist": [{"destination_pod": ["payments/*"]}],
		/* but not replies */
		"blacklist": [{"reply": [true]},],
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	lists, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(lists.Whitelist) != 1 || len(lists.Blacklist) != 1 {
		t.Fatalf("lists: got %+v", lists)
	}
	engine, err := lists.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if !engine.Match(httpFlow()) {
		t.Error("non-reply payments flow should match")
	}
}

func TestParseRejectsUnknownField(t *testing.T) {
	t.Parallel()

	if _, err := Parse([]byte(`{"whitelist": [{"source_podd": ["x"]}]}`)); err == nil {
		t.Error("Parse should reject unknown filter fields")
	}
}
