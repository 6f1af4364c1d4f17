// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/audit"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/clock"
)

// Registry defaults. A pending handshake that never confirms is cheap
// but must not accumulate; an established session stays alive as long
// as it keeps seeing requests.
const (
	DefaultPendingTTL    = 30 * time.Second
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = 60 * time.Second
)

// Pending marks a handshake whose reply has been sent but whose
// key-confirmation frame has not arrived. The session itself already
// exists in the registry; Pending only tracks the confirmation
// deadline.
type Pending struct {
	SessionID string
	CreatedAt time.Time
}

// EvictionReason classifies why the registry dropped a session.
type EvictionReason string

const (
	EvictIdle        EvictionReason = "idle"
	EvictUnconfirmed EvictionReason = "unconfirmed"
	EvictExplicit    EvictionReason = "explicit"
)

// RegistryConfig tunes session lifetimes. Zero fields take the
// package defaults.
type RegistryConfig struct {
	PendingTTL    time.Duration
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// OnEvict, when set, is called for every session the registry
	// drops, after the session's key material is released. Called
	// outside the registry lock.
	OnEvict func(session *Session, reason EvictionReason)
}

// Registry holds pending handshakes and established sessions, and
// expires both on a background sweep.
type Registry struct {
	clock  clock.Clock
	logger *slog.Logger
	config RegistryConfig

	mutex    sync.RWMutex
	pending  map[string]Pending
	sessions map[string]*Session

	stopOnce sync.Once
	started  bool
	stopped  chan struct{}
	done     chan struct{}
}

// NewRegistry creates an empty registry. Call Start to run the sweep
// loop; a registry without Start still works, it just never expires
// anything on its own.
func NewRegistry(clk clock.Clock, logger *slog.Logger, config RegistryConfig) *Registry {
	if config.PendingTTL <= 0 {
		config.PendingTTL = DefaultPendingTTL
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultIdleTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	return &Registry{
		clock:    clk,
		logger:   logger,
		config:   config,
		pending:  make(map[string]Pending),
		sessions: make(map[string]*Session),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Add registers a freshly established session along with its pending
// confirmation record. The session is usable for requests immediately;
// the pending record only bounds how long an unconfirmed session may
// live.
func (r *Registry) Add(session *Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sessions[session.ID] = session
	r.pending[session.ID] = Pending{
		SessionID: session.ID,
		CreatedAt: session.CreatedAt,
	}
}

// Confirm records that the key-confirmation frame for the session
// decrypted correctly. Returns false when the session is unknown.
func (r *Registry) Confirm(sessionID string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	session, exists := r.sessions[sessionID]
	if !exists {
		return false
	}
	delete(r.pending, sessionID)
	session.Confirmed = true
	return true
}

// Pending reports whether the session still awaits its
// key-confirmation frame.
func (r *Registry) Pending(sessionID string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	_, exists := r.pending[sessionID]
	return exists
}

// Lookup returns the session for an ID, or nil.
func (r *Registry) Lookup(sessionID string) *Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.sessions[sessionID]
}

// Remove drops a session explicitly, releasing its key material.
// Returns false when the session was not present.
func (r *Registry) Remove(sessionID string) bool {
	r.mutex.Lock()
	session, exists := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	delete(r.pending, sessionID)
	r.mutex.Unlock()

	if !exists {
		return false
	}
	r.evict(session, EvictExplicit)
	return true
}

// Count returns the number of established sessions.
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// Sweep expires pending handshakes past PendingTTL and sessions idle
// past IdleTTL, as of now. Returns the number of sessions evicted.
func (r *Registry) Sweep(now time.Time) int {
	var evicted []*Session
	var reasons []EvictionReason

	r.mutex.Lock()
	for sessionID, pending := range r.pending {
		if now.Sub(pending.CreatedAt) < r.config.PendingTTL {
			continue
		}
		delete(r.pending, sessionID)
		if session, exists := r.sessions[sessionID]; exists {
			delete(r.sessions, sessionID)
			evicted = append(evicted, session)
			reasons = append(reasons, EvictUnconfirmed)
		}
	}
	for sessionID, session := range r.sessions {
		if now.Sub(session.LastActivity()) < r.config.IdleTTL {
			continue
		}
		delete(r.sessions, sessionID)
		delete(r.pending, sessionID)
		evicted = append(evicted, session)
		reasons = append(reasons, EvictIdle)
	}
	r.mutex.Unlock()

	for i, session := range evicted {
		r.evict(session, reasons[i])
	}
	return len(evicted)
}

// evict releases a session's key material and notifies the hook.
// Must be called without the registry lock held.
func (r *Registry) evict(session *Session, reason EvictionReason) {
	session.Close()
	r.logger.Info("session evicted",
		"session_id", audit.TruncateSessionID(session.ID),
		"alias", session.Alias,
		"reason", string(reason),
	)
	if r.config.OnEvict != nil {
		r.config.OnEvict(session, reason)
	}
}

// Start runs the background sweep loop until Stop is called.
func (r *Registry) Start() {
	r.mutex.Lock()
	r.started = true
	r.mutex.Unlock()
	go func() {
		defer close(r.done)
		ticker := r.clock.NewTicker(r.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopped:
				return
			case now := <-ticker.C:
				r.Sweep(now)
			}
		}
	}()
}

// Stop halts the sweep loop and drops every session, releasing key
// material. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopped)
		r.mutex.Lock()
		started := r.started
		r.mutex.Unlock()
		if started {
			<-r.done
		}

		r.mutex.Lock()
		remaining := make([]*Session, 0, len(r.sessions))
		for _, session := range r.sessions {
			remaining = append(remaining, session)
		}
		r.sessions = make(map[string]*Session)
		r.pending = make(map[string]Pending)
		r.mutex.Unlock()

		for _, session := range remaining {
			r.evict(session, EvictExplicit)
		}
	})
}
