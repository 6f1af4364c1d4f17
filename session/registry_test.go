// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/clock"
)

func testSession(t *testing.T, id string, createdAt time.Time) *Session {
	t.Helper()
	keys := channel.Keys{
		ClientToServer: make([]byte, channel.KeySize),
		ServerToClient: make([]byte, channel.KeySize),
	}
	ch, err := channel.New(keys, channel.RoleServer)
	if err != nil {
		t.Fatalf("creating channel: %v", err)
	}
	return &Session{
		ID:        id,
		Alias:     "agent",
		Channel:   ch,
		CreatedAt: createdAt,
	}
}

func testRegistry(t *testing.T, clk clock.Clock, config RegistryConfig) *Registry {
	t.Helper()
	return NewRegistry(clk, slog.New(slog.NewTextHandler(io.Discard, nil)), config)
}

func TestConfirmRemovesPending(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	registry := testRegistry(t, fake, RegistryConfig{})

	session := testSession(t, "abc123", start)
	registry.Add(session)

	if !registry.Confirm("abc123") {
		t.Fatal("Confirm returned false for known session")
	}
	if !session.Confirmed {
		t.Error("Confirmed flag not set")
	}
	if registry.Confirm("missing") {
		t.Error("Confirm returned true for unknown session")
	}

	// Past the pending TTL, a confirmed session must survive the sweep.
	fake.Advance(DefaultPendingTTL + time.Second)
	registry.Sweep(fake.Now())
	if registry.Lookup("abc123") == nil {
		t.Error("confirmed session evicted by pending sweep")
	}
}

func TestUnconfirmedSessionExpires(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)

	var evictions []EvictionReason
	registry := testRegistry(t, fake, RegistryConfig{
		OnEvict: func(_ *Session, reason EvictionReason) {
			evictions = append(evictions, reason)
		},
	})

	registry.Add(testSession(t, "abc123", start))

	// Just under the TTL: still alive.
	fake.Advance(DefaultPendingTTL - time.Second)
	if n := registry.Sweep(fake.Now()); n != 0 {
		t.Fatalf("premature eviction: %d", n)
	}

	fake.Advance(2 * time.Second)
	if n := registry.Sweep(fake.Now()); n != 1 {
		t.Fatalf("Sweep evicted %d sessions, want 1", n)
	}
	if registry.Lookup("abc123") != nil {
		t.Error("evicted session still resolvable")
	}
	if len(evictions) != 1 || evictions[0] != EvictUnconfirmed {
		t.Errorf("evictions = %v, want [unconfirmed]", evictions)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	registry := testRegistry(t, fake, RegistryConfig{})

	session := testSession(t, "abc123", start)
	registry.Add(session)
	registry.Confirm("abc123")

	// Activity keeps pushing the idle deadline out.
	fake.Advance(DefaultIdleTTL - time.Minute)
	session.Touch(fake.Now())
	fake.Advance(DefaultIdleTTL - time.Minute)
	if n := registry.Sweep(fake.Now()); n != 0 {
		t.Fatalf("active session evicted: %d", n)
	}

	fake.Advance(2 * time.Minute)
	if n := registry.Sweep(fake.Now()); n != 1 {
		t.Fatalf("idle session not evicted: %d", n)
	}
}

func TestBackgroundSweep(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)

	evicted := make(chan EvictionReason, 1)
	registry := testRegistry(t, fake, RegistryConfig{
		OnEvict: func(_ *Session, reason EvictionReason) {
			evicted <- reason
		},
	})
	registry.Add(testSession(t, "abc123", start))

	registry.Start()
	defer registry.Stop()
	fake.WaitForTickers(1)

	fake.Advance(DefaultSweepInterval)
	select {
	case reason := <-evicted:
		if reason != EvictUnconfirmed {
			t.Errorf("reason = %v, want unconfirmed", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background sweep did not run")
	}
}

func TestStopDropsEverything(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	registry := testRegistry(t, fake, RegistryConfig{})

	for i := 0; i < 3; i++ {
		registry.Add(testSession(t, fmt.Sprintf("session-%d", i), start))
	}
	registry.Start()
	fake.WaitForTickers(1)

	registry.Stop()
	if registry.Count() != 0 {
		t.Errorf("Count after Stop = %d, want 0", registry.Count())
	}
	registry.Stop() // idempotent
}

func TestStopWithoutStart(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC))
	registry := testRegistry(t, fake, RegistryConfig{})
	registry.Stop()
}

func TestEvictionLogTruncatesSessionID(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)

	var output bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&output, nil))
	registry := NewRegistry(fake, logger, RegistryConfig{})

	fullID := "0123456789abcdef0123456789abcdef"
	registry.Add(testSession(t, fullID, start))
	registry.Remove(fullID)

	logged := output.String()
	if strings.Contains(logged, fullID) {
		t.Errorf("full session ID leaked into log: %s", logged)
	}
	if !strings.Contains(logged, fullID[:8]) {
		t.Errorf("truncated session ID missing from log: %s", logged)
	}
}

func TestAllowRequestFixedWindow(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	session := &Session{ID: "abc123", CreatedAt: start}

	const limit = 3
	window := time.Minute

	now := start
	for i := 0; i < limit; i++ {
		if !session.AllowRequest(now, limit, window) {
			t.Fatalf("request %d denied within budget", i+1)
		}
		now = now.Add(time.Second)
	}
	if session.AllowRequest(now, limit, window) {
		t.Fatal("request over budget allowed")
	}

	// The window is anchored at the first request, not the last.
	now = start.Add(window)
	if !session.AllowRequest(now, limit, window) {
		t.Fatal("request denied after window reset")
	}
}

func TestAllowRequestUnlimited(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	session := &Session{ID: "abc123", CreatedAt: start}
	for i := 0; i < 100; i++ {
		if !session.AllowRequest(start, 0, time.Minute) {
			t.Fatal("zero limit must disable rate limiting")
		}
	}
}
