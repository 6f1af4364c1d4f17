// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
)

// Duration wraps time.Duration for YAML fields written as "30s",
// "5m", etc.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PeerConfig is one authorized-peer entry: an alias plus the peer's
// published public keys, base64-encoded.
type PeerConfig struct {
	Alias       string `yaml:"alias"`
	SigningKey  string `yaml:"signing_key"`
	ExchangeKey string `yaml:"exchange_key"`
}

// SessionTimings overrides the registry TTLs. Zero values take the
// session package defaults.
type SessionTimings struct {
	PendingTTL    Duration `yaml:"pending_ttl,omitempty"`
	IdleTTL       Duration `yaml:"idle_ttl,omitempty"`
	SweepInterval Duration `yaml:"sweep_interval,omitempty"`
}

// Config is the server configuration, loaded from a single YAML file.
type Config struct {
	// ListenAddress is the host:port the server binds.
	ListenAddress string `yaml:"listen_address"`

	// KeyFile is the path of the server's key bundle (see the keygen
	// subcommand).
	KeyFile string `yaml:"key_file"`

	// CatalogDirectory holds the built-in connector templates
	// (.json/.jsonc).
	CatalogDirectory string `yaml:"catalog_dir,omitempty"`

	// AuditDirectory enables the JSONL audit log when set.
	AuditDirectory string `yaml:"audit_dir,omitempty"`

	// SealedBundle and BundleIdentity configure an age-sealed
	// credential bundle consulted before the process environment
	// during secret resolution.
	SealedBundle   string `yaml:"sealed_bundle,omitempty"`
	BundleIdentity string `yaml:"bundle_identity,omitempty"`

	// RateLimitPerMinute bounds requests per session per minute.
	// Zero disables rate limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// UpstreamTimeout bounds each proxied HTTP call.
	UpstreamTimeout Duration `yaml:"upstream_timeout,omitempty"`

	// Peers is the authorized-peer allow-list.
	Peers []PeerConfig `yaml:"peers"`

	// Callers maps a peer alias to its route profile. A peer without
	// a profile can establish sessions but resolves zero routes.
	Callers map[string]route.CallerProfile `yaml:"callers,omitempty"`

	// Session overrides registry TTLs.
	Session SessionTimings `yaml:"session,omitempty"`
}

// Config defaults. Rate limiting has no default: a config that wants
// it sets rate_limit_per_minute explicitly, zero disables.
const (
	DefaultListenAddress   = "127.0.0.1:8787"
	DefaultUpstreamTimeout = 30 * time.Second
)

// LoadConfig reads and validates a YAML config file. Unknown fields
// are errors: a typoed key must not silently disable what it meant to
// configure.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = Duration(DefaultUpstreamTimeout)
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.KeyFile == "" {
		return fmt.Errorf("key_file is required")
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("at least one authorized peer is required")
	}
	seen := make(map[string]bool, len(c.Peers))
	for index, peer := range c.Peers {
		if peer.Alias == "" {
			return fmt.Errorf("peers[%d]: alias is required", index)
		}
		if seen[peer.Alias] {
			return fmt.Errorf("peers[%d]: duplicate alias %q", index, peer.Alias)
		}
		seen[peer.Alias] = true
		if peer.SigningKey == "" || peer.ExchangeKey == "" {
			return fmt.Errorf("peer %q: signing_key and exchange_key are required", peer.Alias)
		}
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	if (c.SealedBundle == "") != (c.BundleIdentity == "") {
		return fmt.Errorf("sealed_bundle and bundle_identity must be set together")
	}
	for alias := range c.Callers {
		if !seen[alias] {
			return fmt.Errorf("caller %q has no matching peer entry", alias)
		}
	}
	return nil
}

// AuthorizedPeers parses the peer entries into an allow-list.
func (c *Config) AuthorizedPeers() (identity.AuthorizedSet, error) {
	peers := make(identity.AuthorizedSet, 0, len(c.Peers))
	for _, entry := range c.Peers {
		bundle, err := identity.ParsePublicKeyBundle(entry.SigningKey, entry.ExchangeKey)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", entry.Alias, err)
		}
		peers = append(peers, identity.Peer{Alias: entry.Alias, Keys: bundle})
	}
	return peers, nil
}
