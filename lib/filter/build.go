// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/flowscope/lib/glob"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// Builder compiles part of a FlowFilter into a predicate. It returns
// a nil predicate when the filter does not use the builder's fields.
// Builders extend the vocabulary without changing FlowFilter's wire
// shape: a deployment can give meaning to fields, or combinations of
// fields, that the default set ignores.
type Builder func(flow.FlowFilter) (Predicate, error)

// Build compiles whitelist and blacklist filters with the default
// vocabulary.
func Build(whitelist, blacklist []flow.FlowFilter) (*Engine, error) {
	return BuildWith(whitelist, blacklist, nil)
}

// BuildWith compiles filters with the default vocabulary plus extra
// builders. Each filter's predicates are ANDed together.
func BuildWith(whitelist, blacklist []flow.FlowFilter, extra []Builder) (*Engine, error) {
	builders := slices.Concat(defaultBuilders, extra)
	compiledWhitelist, err := compileList("whitelist", whitelist, builders)
	if err != nil {
		return nil, err
	}
	compiledBlacklist, err := compileList("blacklist", blacklist, builders)
	if err != nil {
		return nil, err
	}
	return New(compiledWhitelist, compiledBlacklist), nil
}

func compileList(name string, filters []flow.FlowFilter, builders []Builder) ([]Predicate, error) {
	predicates := make([]Predicate, 0, len(filters))
	for index, filter := range filters {
		predicate, err := compile(filter, builders)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", name, index, err)
		}
		predicates = append(predicates, predicate)
	}
	return predicates, nil
}

// Compile turns one FlowFilter into a predicate using the default
// vocabulary.
func Compile(filter flow.FlowFilter) (Predicate, error) {
	return compile(filter, defaultBuilders)
}

func compile(filter flow.FlowFilter, builders []Builder) (Predicate, error) {
	var parts []Predicate
	for _, build := range builders {
		predicate, err := build(filter)
		if err != nil {
			return nil, err
		}
		if predicate != nil {
			parts = append(parts, predicate)
		}
	}
	switch len(parts) {
	case 0:
		return func(*flow.Flow) bool { return true }, nil
	case 1:
		return parts[0], nil
	}
	return func(f *flow.Flow) bool {
		for _, part := range parts {
			if !part(f) {
				return false
			}
		}
		return true
	}, nil
}

var defaultBuilders = []Builder{
	uuidBuilder,
	ipBuilder("source_ip", func(f flow.FlowFilter) []string { return f.SourceIP }, source),
	ipBuilder("destination_ip", func(f flow.FlowFilter) []string { return f.DestinationIP }, destination),
	podBuilder("source_pod", func(f flow.FlowFilter) []string { return f.SourcePod }, source),
	podBuilder("destination_pod", func(f flow.FlowFilter) []string { return f.DestinationPod }, destination),
	labelBuilder("source_label", func(f flow.FlowFilter) []string { return f.SourceLabel }, source),
	labelBuilder("destination_label", func(f flow.FlowFilter) []string { return f.DestinationLabel }, destination),
	portBuilder("source_port", func(f flow.FlowFilter) []string { return f.SourcePort }, source),
	portBuilder("destination_port", func(f flow.FlowFilter) []string { return f.DestinationPort }, destination),
	protocolBuilder,
	verdictBuilder,
	directionBuilder,
	eventTypeBuilder,
	nodeNameBuilder,
	replyBuilder,
	httpStatusBuilder,
	httpMethodBuilder,
	dnsQueryBuilder,
}

func source(f *flow.Flow) *flow.Endpoint      { return &f.Source }
func destination(f *flow.Flow) *flow.Endpoint { return &f.Destination }

func uuidBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.UUID) == 0 {
		return nil, nil
	}
	ids := slices.Clone(filter.UUID)
	return func(f *flow.Flow) bool { return slices.Contains(ids, f.UUID) }, nil
}

func ipBuilder(field string, values func(flow.FlowFilter) []string, side func(*flow.Flow) *flow.Endpoint) Builder {
	return func(filter flow.FlowFilter) (Predicate, error) {
		raw := values(filter)
		if len(raw) == 0 {
			return nil, nil
		}
		prefixes := make([]netip.Prefix, 0, len(raw))
		for _, value := range raw {
			prefix, err := parsePrefix(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			prefixes = append(prefixes, prefix)
		}
		return func(f *flow.Flow) bool {
			addr, err := netip.ParseAddr(side(f).IP)
			if err != nil {
				return false
			}
			addr = addr.Unmap()
			for _, prefix := range prefixes {
				if prefix.Contains(addr) {
					return true
				}
			}
			return false
		}, nil
	}
}

func parsePrefix(value string) (netip.Prefix, error) {
	if strings.Contains(value, "/") {
		prefix, err := netip.ParsePrefix(value)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid CIDR %q: %w", value, err)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid IP %q: %w", value, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// podBuilder matches "namespace/pod" globs. A value without a slash
// names a pod in any namespace.
func podBuilder(field string, values func(flow.FlowFilter) []string, side func(*flow.Flow) *flow.Endpoint) Builder {
	return func(filter flow.FlowFilter) (Predicate, error) {
		raw := values(filter)
		if len(raw) == 0 {
			return nil, nil
		}
		patterns := make([]glob.Pattern, 0, len(raw))
		for _, value := range raw {
			if !strings.Contains(value, "/") {
				value = "*/" + value
			}
			pattern, err := glob.Compile(value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", field, err)
			}
			patterns = append(patterns, pattern)
		}
		return func(f *flow.Flow) bool {
			path := side(f).PodPath()
			return path != "" && glob.MatchAny(patterns, path)
		}, nil
	}
}

type labelSelector struct {
	key      string
	value    string
	hasValue bool
}

func labelBuilder(field string, values func(flow.FlowFilter) []string, side func(*flow.Flow) *flow.Endpoint) Builder {
	return func(filter flow.FlowFilter) (Predicate, error) {
		raw := values(filter)
		if len(raw) == 0 {
			return nil, nil
		}
		selectors := make([]labelSelector, 0, len(raw))
		for _, value := range raw {
			key, labelValue, hasValue := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("%s: empty label key in %q", field, value)
			}
			selectors = append(selectors, labelSelector{key: key, value: labelValue, hasValue: hasValue})
		}
		return func(f *flow.Flow) bool {
			for _, label := range side(f).Labels {
				key, value, _ := strings.Cut(label, "=")
				for _, selector := range selectors {
					if key == selector.key && (!selector.hasValue || value == selector.value) {
						return true
					}
				}
			}
			return false
		}, nil
	}
}

func portBuilder(field string, values func(flow.FlowFilter) []string, side func(*flow.Flow) *flow.Endpoint) Builder {
	return func(filter flow.FlowFilter) (Predicate, error) {
		raw := values(filter)
		if len(raw) == 0 {
			return nil, nil
		}
		ports := make([]uint16, 0, len(raw))
		for _, value := range raw {
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%s: invalid port %q", field, value)
			}
			ports = append(ports, uint16(port))
		}
		return func(f *flow.Flow) bool { return slices.Contains(ports, side(f).Port) }, nil
	}
}

func protocolBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.Protocol) == 0 {
		return nil, nil
	}
	protocols := make([]string, 0, len(filter.Protocol))
	for _, value := range filter.Protocol {
		name := strings.ToLower(value)
		if !slices.Contains(flow.Protocols, name) {
			return nil, fmt.Errorf("protocol: unknown protocol %q", value)
		}
		protocols = append(protocols, name)
	}
	return func(f *flow.Flow) bool { return slices.Contains(protocols, strings.ToLower(f.Protocol)) }, nil
}

func verdictBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.Verdict) == 0 {
		return nil, nil
	}
	verdicts := make([]flow.Verdict, 0, len(filter.Verdict))
	for _, value := range filter.Verdict {
		verdict, err := flow.ParseVerdict(value)
		if err != nil {
			return nil, fmt.Errorf("verdict: %w", err)
		}
		verdicts = append(verdicts, verdict)
	}
	return func(f *flow.Flow) bool { return slices.Contains(verdicts, f.Verdict) }, nil
}

func directionBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.TrafficDirection) == 0 {
		return nil, nil
	}
	directions := make([]flow.TrafficDirection, 0, len(filter.TrafficDirection))
	for _, value := range filter.TrafficDirection {
		direction, err := flow.ParseTrafficDirection(value)
		if err != nil {
			return nil, fmt.Errorf("traffic_direction: %w", err)
		}
		directions = append(directions, direction)
	}
	return func(f *flow.Flow) bool { return slices.Contains(directions, f.TrafficDirection) }, nil
}

func eventTypeBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.EventType) == 0 {
		return nil, nil
	}
	types := make([]flow.Type, 0, len(filter.EventType))
	for _, value := range filter.EventType {
		eventType, err := flow.ParseType(value)
		if err != nil {
			return nil, fmt.Errorf("event_type: %w", err)
		}
		types = append(types, eventType)
	}
	return func(f *flow.Flow) bool { return slices.Contains(types, f.Type) }, nil
}

func nodeNameBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.NodeName) == 0 {
		return nil, nil
	}
	patterns, err := compileGlobs("node_name", filter.NodeName)
	if err != nil {
		return nil, err
	}
	return func(f *flow.Flow) bool { return glob.MatchAny(patterns, f.NodeName) }, nil
}

func replyBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.Reply) == 0 {
		return nil, nil
	}
	wanted := slices.Clone(filter.Reply)
	return func(f *flow.Flow) bool {
		return f.IsReply != nil && slices.Contains(wanted, *f.IsReply)
	}, nil
}

type statusMatcher struct {
	code  uint32
	class uint32 // nonzero for "N+" matchers
}

func httpStatusBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.HTTPStatusCode) == 0 {
		return nil, nil
	}
	matchers := make([]statusMatcher, 0, len(filter.HTTPStatusCode))
	for _, value := range filter.HTTPStatusCode {
		matcher, err := parseStatus(value)
		if err != nil {
			return nil, fmt.Errorf("http_status_code: %w", err)
		}
		matchers = append(matchers, matcher)
	}
	return func(f *flow.Flow) bool {
		if f.L7 == nil || f.L7.HTTP == nil {
			return false
		}
		code := f.L7.HTTP.Code
		for _, matcher := range matchers {
			if matcher.class != 0 && code/100 == matcher.class {
				return true
			}
			if matcher.class == 0 && code == matcher.code {
				return true
			}
		}
		return false
	}, nil
}

// parseStatus accepts an exact code in [100, 599] or a class "1+".."5+".
func parseStatus(value string) (statusMatcher, error) {
	if class, ok := strings.CutSuffix(value, "+"); ok {
		if len(class) != 1 || class[0] < '1' || class[0] > '5' {
			return statusMatcher{}, fmt.Errorf("invalid status class %q", value)
		}
		return statusMatcher{class: uint32(class[0] - '0')}, nil
	}
	code, err := strconv.ParseUint(value, 10, 32)
	if err != nil || code < 100 || code > 599 {
		return statusMatcher{}, fmt.Errorf("invalid status code %q", value)
	}
	return statusMatcher{code: uint32(code)}, nil
}

func httpMethodBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.HTTPMethod) == 0 {
		return nil, nil
	}
	methods := make([]string, 0, len(filter.HTTPMethod))
	for _, value := range filter.HTTPMethod {
		if value == "" {
			return nil, fmt.Errorf("http_method: empty method")
		}
		methods = append(methods, strings.ToUpper(value))
	}
	return func(f *flow.Flow) bool {
		if f.L7 == nil || f.L7.HTTP == nil {
			return false
		}
		return slices.Contains(methods, strings.ToUpper(f.L7.HTTP.Method))
	}, nil
}

func dnsQueryBuilder(filter flow.FlowFilter) (Predicate, error) {
	if len(filter.DNSQuery) == 0 {
		return nil, nil
	}
	patterns, err := compileGlobs("dns_query", filter.DNSQuery)
	if err != nil {
		return nil, err
	}
	return func(f *flow.Flow) bool {
		if f.L7 == nil || f.L7.DNS == nil {
			return false
		}
		return glob.MatchAny(patterns, strings.TrimSuffix(f.L7.DNS.Query, "."))
	}, nil
}

func compileGlobs(field string, values []string) ([]glob.Pattern, error) {
	patterns := make([]glob.Pattern, 0, len(values))
	for _, value := range values {
		pattern, err := glob.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}
