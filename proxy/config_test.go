// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func testPeerKeys(t *testing.T) (signing, exchange string) {
	t.Helper()
	bundle, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bundle.Close() })
	return base64.StdEncoding.EncodeToString(bundle.Public.SigningKey),
		base64.StdEncoding.EncodeToString(bundle.Public.ExchangeKey)
}

func TestLoadConfig(t *testing.T) {
	signing, exchange := testPeerKeys(t)
	path := writeConfig(t, `
key_file: /etc/secure-proxy/server.key
rate_limit_per_minute: 30
upstream_timeout: 10s
peers:
  - alias: agent/research
    signing_key: `+signing+`
    exchange_key: `+exchange+`
callers:
  agent/research:
    connections: [github]
    env:
      GITHUB_TOKEN: "${RESEARCH_GITHUB_TOKEN}"
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.ListenAddress != DefaultListenAddress {
		t.Errorf("ListenAddress default not applied: %q", config.ListenAddress)
	}
	if config.UpstreamTimeout.Std() != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v", config.UpstreamTimeout.Std())
	}
	if config.RateLimitPerMinute != 30 {
		t.Errorf("RateLimitPerMinute = %d", config.RateLimitPerMinute)
	}

	profile := config.Callers["agent/research"]
	if len(profile.Connections) != 1 || profile.Connections[0] != "github" {
		t.Errorf("Connections = %v", profile.Connections)
	}
	if profile.Env["GITHUB_TOKEN"] != "${RESEARCH_GITHUB_TOKEN}" {
		t.Errorf("Env = %v", profile.Env)
	}

	peers, err := config.AuthorizedPeers()
	if err != nil {
		t.Fatalf("AuthorizedPeers: %v", err)
	}
	if len(peers) != 1 || peers[0].Alias != "agent/research" {
		t.Errorf("peers = %+v", peers)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
key_file: /tmp/k
rate_limt_per_minute: 30
peers:
  - alias: a
    signing_key: x
    exchange_key: y
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("typoed field accepted")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing key file",
			mutate:  func(c *Config) { c.KeyFile = "" },
			wantErr: "key_file",
		},
		{
			name:    "no peers",
			mutate:  func(c *Config) { c.Peers = nil },
			wantErr: "peer",
		},
		{
			name: "duplicate peer alias",
			mutate: func(c *Config) {
				c.Peers = append(c.Peers, c.Peers[0])
			},
			wantErr: "duplicate",
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.RateLimitPerMinute = -1 },
			wantErr: "rate_limit_per_minute",
		},
		{
			name:    "sealed bundle without identity",
			mutate:  func(c *Config) { c.SealedBundle = "/tmp/b.age" },
			wantErr: "bundle_identity",
		},
		{
			name: "caller without peer",
			mutate: func(c *Config) {
				c.Callers = map[string]route.CallerProfile{"ghost": {}}
			},
			wantErr: "ghost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{
				KeyFile: "/tmp/k",
				Peers:   []PeerConfig{{Alias: "a", SigningKey: "s", ExchangeKey: "e"}},
			}
			config.applyDefaults()
			tt.mutate(config)
			err := config.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
