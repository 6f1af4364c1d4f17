// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package identity

// Peer is an entry in the authorized-peer allow-list: a caller alias
// and its published public key bundle. Allow-lists are small and
// loaded once at startup.
type Peer struct {
	// Alias names the caller (e.g., "agent/research"). Route
	// resolution is keyed by this alias.
	Alias string `json:"alias" yaml:"alias"`

	// Keys is the peer's public key bundle.
	Keys PublicKeyBundle `json:"keys" yaml:"keys"`
}

// AuthorizedSet is the set of peers permitted to establish sessions.
type AuthorizedSet []Peer

// Lookup returns the peer whose bundle equals candidate, or nil.
// Bundle comparison is constant-time per entry.
func (s AuthorizedSet) Lookup(candidate PublicKeyBundle) *Peer {
	for index := range s {
		if s[index].Keys.Equal(candidate) {
			return &s[index]
		}
	}
	return nil
}

// VerifyAny returns the first peer whose signing key verifies
// signature over message, or nil when no authorized key matches.
// This is how handshake Init messages are attributed: the message
// carries no identity claim, so the signature is checked against
// every authorized key.
func (s AuthorizedSet) VerifyAny(message, signature []byte) *Peer {
	for index := range s {
		if s[index].Keys.Verify(message, signature) {
			return &s[index]
		}
	}
	return nil
}
