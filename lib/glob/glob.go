// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package glob matches slash-separated names such as "namespace/pod"
// or hierarchical node names against shell-style patterns:
//
//   - "*" matches within one segment: "kube-system/*" matches
//     "kube-system/coredns-1" but not "a/b/c"
//   - "?" matches one non-slash character
//   - "**" matches any number of segments, as a whole segment at the
//     start ("**/api-*"), end ("prod/**"), or interior ("prod/**/db")
//   - "**" alone matches everything
//
// Patterns are compiled once and validated up front, so a malformed
// pattern is rejected when a request arrives rather than silently
// failing to match every record of a stream.
package glob

import (
	"fmt"
	"path"
	"strings"
)

// Pattern is a compiled glob.
type Pattern struct {
	raw string
	// kind selects the matching strategy; prefix and suffix are the
	// glob fragments around the "**" segment.
	kind   patternKind
	prefix string
	suffix string
}

type patternKind uint8

const (
	kindPlain patternKind = iota
	kindAll
	kindTrailing
	kindLeading
	kindInterior
)

// Compile parses pattern. It fails for empty patterns, malformed
// character classes, more than one "**", and "**" that is not a whole
// segment.
func Compile(pattern string) (Pattern, error) {
	if pattern == "" {
		return Pattern{}, fmt.Errorf("glob: empty pattern")
	}
	if pattern == "**" {
		return Pattern{raw: pattern, kind: kindAll}, nil
	}

	count := strings.Count(pattern, "**")
	if count == 0 {
		if err := checkFragment(pattern); err != nil {
			return Pattern{}, err
		}
		return Pattern{raw: pattern, kind: kindPlain}, nil
	}
	if count > 1 {
		return Pattern{}, fmt.Errorf("glob: %q: at most one ** segment is supported", pattern)
	}

	compiled := Pattern{raw: pattern}
	switch {
	case strings.HasSuffix(pattern, "/**"):
		compiled.kind = kindTrailing
		compiled.prefix = strings.TrimSuffix(pattern, "/**")
	case strings.HasPrefix(pattern, "**/"):
		compiled.kind = kindLeading
		compiled.suffix = strings.TrimPrefix(pattern, "**/")
	case strings.Contains(pattern, "/**/"):
		compiled.kind = kindInterior
		index := strings.Index(pattern, "/**/")
		compiled.prefix = pattern[:index]
		compiled.suffix = pattern[index+4:]
	default:
		return Pattern{}, fmt.Errorf("glob: %q: ** must be a whole path segment", pattern)
	}

	for _, fragment := range []string{compiled.prefix, compiled.suffix} {
		if fragment == "" {
			continue
		}
		if err := checkFragment(fragment); err != nil {
			return Pattern{}, err
		}
	}
	return compiled, nil
}

// MustCompile is Compile for patterns known at build time.
func MustCompile(pattern string) Pattern {
	compiled, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return compiled
}

func checkFragment(fragment string) error {
	if _, err := path.Match(fragment, ""); err != nil {
		return fmt.Errorf("glob: %q: %w", fragment, err)
	}
	return nil
}

// String returns the source pattern.
func (p Pattern) String() string { return p.raw }

// Match reports whether name matches the pattern.
func (p Pattern) Match(name string) bool {
	switch p.kind {
	case kindAll:
		return true
	case kindPlain:
		return matchFragment(p.raw, name)
	case kindTrailing:
		// "**" may consume zero segments.
		if matchFragment(p.prefix, name) {
			return true
		}
		return matchLeadingSegments(p.prefix, name)
	case kindLeading:
		if matchFragment(p.suffix, name) {
			return true
		}
		return matchTrailingSegments(p.suffix, name)
	case kindInterior:
		return p.matchInterior(name)
	}
	return false
}

func (p Pattern) matchInterior(name string) bool {
	if matchFragment(p.prefix+"/"+p.suffix, name) {
		return true
	}
	prefixDepth := strings.Count(p.prefix, "/") + 1
	suffixDepth := strings.Count(p.suffix, "/") + 1
	segments := strings.Split(name, "/")
	if len(segments) < prefixDepth+1+suffixDepth {
		return false
	}
	if !matchFragment(p.prefix, strings.Join(segments[:prefixDepth], "/")) {
		return false
	}
	if !matchFragment(p.suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
		return false
	}
	for _, segment := range segments[prefixDepth : len(segments)-suffixDepth] {
		if segment == "" {
			return false
		}
	}
	return true
}

func matchFragment(fragment, s string) bool {
	matched, err := path.Match(fragment, s)
	return err == nil && matched
}

// matchLeadingSegments reports whether the first segments of name
// match fragment with at least one segment left over.
func matchLeadingSegments(fragment, name string) bool {
	depth := strings.Count(fragment, "/") + 1
	segments := strings.SplitN(name, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchFragment(fragment, strings.Join(segments[:depth], "/"))
}

// matchTrailingSegments reports whether the last segments of name
// match fragment with at least one segment before them.
func matchTrailingSegments(fragment, name string) bool {
	depth := strings.Count(fragment, "/") + 1
	segments := strings.Split(name, "/")
	if len(segments) <= depth {
		return false
	}
	return matchFragment(fragment, strings.Join(segments[len(segments)-depth:], "/"))
}

// MatchAny reports whether name matches any of patterns. An empty
// list matches nothing.
func MatchAny(patterns []Pattern, name string) bool {
	for _, pattern := range patterns {
		if pattern.Match(name) {
			return true
		}
	}
	return false
}
