// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"fmt"
	"slices"
	"sort"
)

// FieldMask selects which Flow fields a reader receives. The zero
// value keeps every field.
type FieldMask struct {
	paths []string
	copy  []func(dst, src *Flow)
}

// fieldCopiers maps each dotted path to a function copying that field
// from src into dst. Parent paths copy the whole sub-message.
var fieldCopiers = map[string]func(dst, src *Flow){
	"uuid":              func(d, s *Flow) { d.UUID = s.UUID },
	"time":              func(d, s *Flow) { d.Time = s.Time },
	"node_name":         func(d, s *Flow) { d.NodeName = s.NodeName },
	"verdict":           func(d, s *Flow) { d.Verdict = s.Verdict },
	"drop_reason":       func(d, s *Flow) { d.DropReason = s.DropReason },
	"type":              func(d, s *Flow) { d.Type = s.Type },
	"protocol":          func(d, s *Flow) { d.Protocol = s.Protocol },
	"traffic_direction": func(d, s *Flow) { d.TrafficDirection = s.TrafficDirection },
	"is_reply":          func(d, s *Flow) { d.IsReply = s.IsReply },
	"summary":           func(d, s *Flow) { d.Summary = s.Summary },

	"source":      func(d, s *Flow) { d.Source = s.Source },
	"destination": func(d, s *Flow) { d.Destination = s.Destination },

	"l7": func(d, s *Flow) {
		if s.L7 != nil {
			clone := *s.L7
			d.L7 = &clone
		}
	},
	"l7.latency_ns": func(d, s *Flow) {
		if s.L7 != nil {
			ensureL7(d).LatencyNS = s.L7.LatencyNS
		}
	},
	"l7.http": func(d, s *Flow) {
		if s.L7 != nil && s.L7.HTTP != nil {
			clone := *s.L7.HTTP
			ensureL7(d).HTTP = &clone
		}
	},
	"l7.http.method": httpField(func(d, s *HTTP) { d.Method = s.Method }),
	"l7.http.url":    httpField(func(d, s *HTTP) { d.URL = s.URL }),
	"l7.http.code":   httpField(func(d, s *HTTP) { d.Code = s.Code }),
	"l7.dns": func(d, s *Flow) {
		if s.L7 != nil && s.L7.DNS != nil {
			clone := *s.L7.DNS
			ensureL7(d).DNS = &clone
		}
	},
	"l7.dns.query": dnsField(func(d, s *DNS) { d.Query = s.Query }),
	"l7.dns.ips":   dnsField(func(d, s *DNS) { d.IPs = s.IPs }),
	"l7.dns.rcode": dnsField(func(d, s *DNS) { d.RCode = s.RCode }),
}

func init() {
	for _, side := range []string{"source", "destination"} {
		pick := func(f *Flow) *Endpoint { return &f.Source }
		if side == "destination" {
			pick = func(f *Flow) *Endpoint { return &f.Destination }
		}
		endpointFields := map[string]func(d, s *Endpoint){
			"ip":        func(d, s *Endpoint) { d.IP = s.IP },
			"port":      func(d, s *Endpoint) { d.Port = s.Port },
			"namespace": func(d, s *Endpoint) { d.Namespace = s.Namespace },
			"pod_name":  func(d, s *Endpoint) { d.PodName = s.PodName },
			"labels":    func(d, s *Endpoint) { d.Labels = s.Labels },
			"identity":  func(d, s *Endpoint) { d.Identity = s.Identity },
		}
		for name, copyField := range endpointFields {
			fieldCopiers[side+"."+name] = func(d, s *Flow) { copyField(pick(d), pick(s)) }
		}
	}
}

func ensureL7(f *Flow) *L7 {
	if f.L7 == nil {
		f.L7 = &L7{}
	}
	return f.L7
}

func httpField(copyField func(d, s *HTTP)) func(d, s *Flow) {
	return func(d, s *Flow) {
		if s.L7 == nil || s.L7.HTTP == nil {
			return
		}
		l7 := ensureL7(d)
		if l7.HTTP == nil {
			l7.HTTP = &HTTP{}
		}
		copyField(l7.HTTP, s.L7.HTTP)
	}
}

func dnsField(copyField func(d, s *DNS)) func(d, s *Flow) {
	return func(d, s *Flow) {
		if s.L7 == nil || s.L7.DNS == nil {
			return
		}
		l7 := ensureL7(d)
		if l7.DNS == nil {
			l7.DNS = &DNS{}
		}
		copyField(l7.DNS, s.L7.DNS)
	}
}

// FieldPaths returns every path ParseFieldMask accepts, sorted.
func FieldPaths() []string {
	paths := make([]string, 0, len(fieldCopiers))
	for path := range fieldCopiers {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// ParseFieldMask validates paths. An unknown path is an error so a
// typo does not silently strip every field.
func ParseFieldMask(paths []string) (FieldMask, error) {
	var mask FieldMask
	for _, path := range paths {
		copier, ok := fieldCopiers[path]
		if !ok {
			return FieldMask{}, fmt.Errorf("unknown field mask path %q", path)
		}
		if slices.Contains(mask.paths, path) {
			continue
		}
		mask.paths = append(mask.paths, path)
		mask.copy = append(mask.copy, copier)
	}
	return mask, nil
}

// Empty reports whether the mask keeps every field.
func (m FieldMask) Empty() bool { return len(m.paths) == 0 }

// Paths returns the selected paths in request order.
func (m FieldMask) Paths() []string { return slices.Clone(m.paths) }

// Apply returns a copy of f holding only the selected fields. An empty
// mask returns f itself; f is never modified.
func (m FieldMask) Apply(f *Flow) *Flow {
	if m.Empty() || f == nil {
		return f
	}
	masked := &Flow{}
	for _, copyField := range m.copy {
		copyField(masked, f)
	}
	return masked
}
