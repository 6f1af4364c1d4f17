// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestGenerateAndSign(t *testing.T) {
	bundle, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer bundle.Close()

	message := []byte("challenge")
	signature := bundle.Sign(message)

	if !bundle.Public.Verify(message, signature) {
		t.Error("signature did not verify under own public key")
	}
	if bundle.Public.Verify([]byte("other"), signature) {
		t.Error("signature verified over a different message")
	}
}

func TestSignRepeatable(t *testing.T) {
	// Sign stages the buffer-held key on the heap and zeroes the copy
	// afterwards; the buffer must keep the authoritative key, so every
	// later Sign still produces the same valid signature.
	bundle, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer bundle.Close()

	message := []byte("repeated challenge")
	first := bundle.Sign(message)
	second := bundle.Sign(message)

	if !bytes.Equal(first, second) {
		t.Error("repeated signatures over the same message differ")
	}
	if !bundle.Public.Verify(message, second) {
		t.Error("signature after repeated signing did not verify")
	}
}

func TestKeyBundleRoundTrip(t *testing.T) {
	bundle, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer bundle.Close()

	path := filepath.Join(t.TempDir(), "keys.json")
	if err := SaveKeyBundle(path, bundle); err != nil {
		t.Fatalf("SaveKeyBundle: %v", err)
	}

	loaded, err := LoadKeyBundle(path)
	if err != nil {
		t.Fatalf("LoadKeyBundle: %v", err)
	}
	defer loaded.Close()

	if !loaded.Public.Equal(bundle.Public) {
		t.Error("loaded public bundle differs from saved bundle")
	}

	// The loaded private key must still produce valid signatures.
	message := []byte("after round trip")
	if !bundle.Public.Verify(message, loaded.Sign(message)) {
		t.Error("signature from loaded bundle did not verify")
	}
}

func TestAuthorizedSet(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer alice.Close()
	mallory, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	defer mallory.Close()

	peers := AuthorizedSet{{Alias: "alice", Keys: alice.Public}}

	message := []byte("init transcript")

	if peer := peers.VerifyAny(message, alice.Sign(message)); peer == nil || peer.Alias != "alice" {
		t.Errorf("VerifyAny = %v, want alice", peer)
	}
	if peer := peers.VerifyAny(message, mallory.Sign(message)); peer != nil {
		t.Errorf("VerifyAny accepted unauthorized signer as %q", peer.Alias)
	}

	if peer := peers.Lookup(alice.Public); peer == nil || peer.Alias != "alice" {
		t.Errorf("Lookup = %v, want alice", peer)
	}
	if peer := peers.Lookup(mallory.Public); peer != nil {
		t.Errorf("Lookup matched unauthorized bundle as %q", peer.Alias)
	}
}
