// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package session tracks established encrypted sessions and the
// pending handshakes that precede them. A session binds a channel's
// key material to the caller's resolved routes; the registry owns
// session lifetime, idle expiry, and per-session request budgets.
package session

import (
	"sync"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
)

// Session is one established encrypted session. The channel serializes
// its own cryptographic state; the session mutex covers the activity
// timestamp and the rate window.
type Session struct {
	ID        string
	Alias     string
	Channel   *channel.Channel
	Routes    []route.ResolvedRoute
	CreatedAt time.Time

	// Confirmed records that the key-confirmation frame arrived. The
	// session is usable for requests as soon as it is created; the
	// flag exists for observability, not gating.
	Confirmed bool

	mutex        sync.Mutex
	lastActivity time.Time
	windowStart  time.Time
	windowCount  int
}

// Touch records request activity, resetting the idle expiry clock.
func (s *Session) Touch(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = now
}

// LastActivity returns the time of the most recent request, or the
// creation time when no request has arrived yet.
func (s *Session) LastActivity() time.Time {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lastActivity.IsZero() {
		return s.CreatedAt
	}
	return s.lastActivity
}

// AllowRequest applies the per-session fixed-window rate limit. The
// first request of a window stamps the window start; subsequent
// requests within windowLength count against limit. When the window
// has elapsed the counter resets and the request that observed the
// expiry starts the next window. A limit of zero or less disables
// rate limiting.
func (s *Session) AllowRequest(now time.Time, limit int, windowLength time.Duration) bool {
	if limit <= 0 {
		return true
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= windowLength {
		s.windowStart = now
		s.windowCount = 1
		return true
	}
	if s.windowCount >= limit {
		return false
	}
	s.windowCount++
	return true
}

// Close releases the channel key material. Idempotent via the channel.
func (s *Session) Close() {
	if s.Channel != nil {
		s.Channel.Close()
	}
}
