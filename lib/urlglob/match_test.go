// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package urlglob

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		url     string
		want    bool
	}{
		{
			name:    "exact match",
			pattern: "https://api.github.com/user",
			url:     "https://api.github.com/user",
			want:    true,
		},
		{
			name:    "exact mismatch",
			pattern: "https://api.github.com/user",
			url:     "https://api.github.com/users",
			want:    false,
		},
		{
			name:    "universal",
			pattern: "**",
			url:     "https://anything.example/at/all",
			want:    true,
		},
		{
			name:    "recursive suffix matches deep path",
			pattern: "https://api.github.com/**",
			url:     "https://api.github.com/repos/octo/cat/issues/1",
			want:    true,
		},
		{
			name:    "recursive suffix matches zero segments",
			pattern: "https://api.github.com/**",
			url:     "https://api.github.com",
			want:    true,
		},
		{
			name:    "recursive suffix rejects other host",
			pattern: "https://api.github.com/**",
			url:     "https://evil.example.com/repos",
			want:    false,
		},
		{
			name:    "single segment does not cross slash",
			pattern: "https://api.github.com/repos/*",
			url:     "https://api.github.com/repos/octo/cat",
			want:    false,
		},
		{
			name:    "single segment matches one segment",
			pattern: "https://api.github.com/repos/*",
			url:     "https://api.github.com/repos/octocat",
			want:    true,
		},
		{
			name:    "host wildcard with recursive path",
			pattern: "https://*.example.com/**",
			url:     "https://api.example.com/v1/items",
			want:    true,
		},
		{
			name:    "interior recursive",
			pattern: "https://api.example.com/**/search",
			url:     "https://api.example.com/v2/indexes/main/search",
			want:    true,
		},
		{
			name:    "interior recursive zero segments",
			pattern: "https://api.example.com/**/search",
			url:     "https://api.example.com/search",
			want:    true,
		},
		{
			name:    "query string requires explicit wildcard",
			pattern: "https://api.example.com/v1/data",
			url:     "https://api.example.com/v1/data?token=abc",
			want:    false,
		},
		{
			name:    "query string matched by wildcard",
			pattern: "https://api.example.com/v1/data*",
			url:     "https://api.example.com/v1/data?token=abc",
			want:    true,
		},
		{
			name:    "malformed pattern denies",
			pattern: "https://api.example.com/[unclosed",
			url:     "https://api.example.com/x",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Match(tt.pattern, tt.url); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.url, got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns := []string{
		"https://api.github.com/**",
		"https://*.googleapis.com/**",
	}

	if !MatchAny(patterns, "https://storage.googleapis.com/bucket/object") {
		t.Error("expected googleapis URL to match")
	}
	if MatchAny(patterns, "https://example.com/") {
		t.Error("expected unlisted URL to be rejected")
	}
	if MatchAny(nil, "https://api.github.com/user") {
		t.Error("empty pattern list must deny (default-deny)")
	}
}
