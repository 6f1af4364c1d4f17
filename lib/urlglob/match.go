// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package urlglob matches URLs against endpoint allow-list patterns.
//
// Patterns treat the URL as a /-separated hierarchy:
//
//   - Exact: "https://api.github.com/user" matches only that URL
//   - Single segment: "https://api.github.com/repos/*" matches
//     ".../repos/octocat" but not ".../repos/octocat/issues"
//   - Recursive: "https://api.github.com/**" matches any path under
//     the host, at any depth
//   - Interior recursive: "https://*.example.com/**/search" matches
//     any search endpoint under any subdomain
//   - "?" matches a single non-slash character
//
// The single-segment wildcard "*" never crosses a "/" boundary (standard
// path.Match behavior); use "**" to match across hierarchy levels.
// Matching is case-sensitive; write catalog patterns with lowercase
// schemes and hosts.
package urlglob

import (
	"path"
	"strings"
)

// Match reports whether url matches the allow-list pattern. Malformed
// patterns (unmatched brackets, etc.) never match; a broken pattern
// must not grant access.
func Match(pattern, url string) bool {
	if pattern == "**" {
		return true
	}

	// No **: path.Match handles * and ? without crossing "/".
	if !strings.Contains(pattern, "**") {
		return matchSegments(pattern, url)
	}

	// Suffix form "https://host/**": match the prefix, then anything.
	if strings.HasSuffix(pattern, "/**") {
		prefix := pattern[:len(pattern)-3]
		// ** may match zero additional segments.
		if matchSegments(prefix, url) {
			return true
		}
		return matchLeadingSegments(prefix, url)
	}

	// Prefix form "**/search": anything, then the suffix.
	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if matchSegments(suffix, url) {
			return true
		}
		return matchTrailingSegments(suffix, url)
	}

	// Interior form "https://host/**/search": split at the first
	// /**/ and match both halves independently.
	separator := strings.Index(pattern, "/**/")
	if separator >= 0 {
		prefix := pattern[:separator]
		suffix := pattern[separator+4:]

		// Zero-segment case: prefix and suffix are adjacent.
		if matchSegments(prefix+"/"+suffix, url) {
			return true
		}

		prefixDepth := strings.Count(prefix, "/") + 1
		suffixDepth := strings.Count(suffix, "/") + 1
		segments := strings.Split(url, "/")

		if len(segments) < prefixDepth+1+suffixDepth {
			return false
		}
		if !matchSegments(prefix, strings.Join(segments[:prefixDepth], "/")) {
			return false
		}
		if !matchSegments(suffix, strings.Join(segments[len(segments)-suffixDepth:], "/")) {
			return false
		}
		return true
	}

	// Multiple ** groups or other unsupported shapes: deny.
	return false
}

// MatchAny reports whether url matches any pattern. An empty pattern
// list matches nothing (default-deny).
func MatchAny(patterns []string, url string) bool {
	for _, pattern := range patterns {
		if Match(pattern, url) {
			return true
		}
	}
	return false
}

// matchSegments applies path.Match semantics (* and ? do not cross /).
// Malformed patterns are treated as non-matching.
func matchSegments(pattern, candidate string) bool {
	matched, err := path.Match(pattern, candidate)
	return err == nil && matched
}

// matchLeadingSegments reports whether the candidate's leading segments
// match the pattern with at least one further segment remaining.
func matchLeadingSegments(pattern, candidate string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.SplitN(candidate, "/", depth+1)
	if len(segments) <= depth {
		return false
	}
	return matchSegments(pattern, strings.Join(segments[:depth], "/"))
}

// matchTrailingSegments reports whether the candidate's trailing
// segments match the pattern with at least one segment before them.
func matchTrailingSegments(pattern, candidate string) bool {
	depth := strings.Count(pattern, "/") + 1
	segments := strings.Split(candidate, "/")
	if len(segments) <= depth {
		return false
	}
	return matchSegments(pattern, strings.Join(segments[len(segments)-depth:], "/"))
}
