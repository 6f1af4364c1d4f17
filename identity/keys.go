// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package identity holds the key material and peer allow-lists behind
// the handshake. Each process owns one KeyBundle: an Ed25519 signing
// pair that authenticates handshake messages, and an X25519 exchange
// pair published alongside it. Only public halves (PublicKeyBundle)
// are ever transmitted or compared against the authorized-peer set.
//
// Private keys live in mmap-backed secret buffers (locked against
// swap, zeroed on close) from the moment they are generated or loaded.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/secret"
)

// PublicKeyBundle is the transmissible half of a key bundle.
type PublicKeyBundle struct {
	// SigningKey is the Ed25519 public key (32 bytes).
	SigningKey []byte `json:"signing_key" cbor:"signing_key"`

	// ExchangeKey is the X25519 public key (32 bytes).
	ExchangeKey []byte `json:"exchange_key" cbor:"exchange_key"`
}

// Verify reports whether signature is a valid Ed25519 signature of
// message under this bundle's signing key.
func (b PublicKeyBundle) Verify(message, signature []byte) bool {
	if len(b.SigningKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(b.SigningKey), message, signature)
}

// Equal compares two bundles in constant time.
func (b PublicKeyBundle) Equal(other PublicKeyBundle) bool {
	if len(b.SigningKey) != len(other.SigningKey) || len(b.ExchangeKey) != len(other.ExchangeKey) {
		return false
	}
	signingMatch := subtle.ConstantTimeCompare(b.SigningKey, other.SigningKey)
	exchangeMatch := subtle.ConstantTimeCompare(b.ExchangeKey, other.ExchangeKey)
	return signingMatch&exchangeMatch == 1
}

// KeyBundle is a process's full identity: signing and exchange key
// pairs. Private halves are held in secret buffers; call Close when
// the bundle is no longer needed.
type KeyBundle struct {
	// SigningPrivate holds the 64-byte Ed25519 private key.
	SigningPrivate *secret.Buffer

	// ExchangePrivate holds the 32-byte X25519 private key.
	ExchangePrivate *secret.Buffer

	// Public is the corresponding public bundle, safe to publish.
	Public PublicKeyBundle
}

// Generate creates a fresh key bundle. The caller must Close it.
func Generate() (*KeyBundle, error) {
	signingPublic, signingPrivate, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}

	exchangePrivate := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(exchangePrivate); err != nil {
		return nil, fmt.Errorf("generating exchange key: %w", err)
	}
	exchangePublic, err := curve25519.X25519(exchangePrivate, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("deriving exchange public key: %w", err)
	}

	signingBuffer, err := secret.NewFromBytes(signingPrivate)
	if err != nil {
		return nil, fmt.Errorf("protecting signing key: %w", err)
	}
	exchangeBuffer, err := secret.NewFromBytes(exchangePrivate)
	if err != nil {
		signingBuffer.Close()
		return nil, fmt.Errorf("protecting exchange key: %w", err)
	}

	return &KeyBundle{
		SigningPrivate:  signingBuffer,
		ExchangePrivate: exchangeBuffer,
		Public: PublicKeyBundle{
			SigningKey:  signingPublic,
			ExchangeKey: exchangePublic,
		},
	}, nil
}

// Sign signs message with the bundle's Ed25519 private key. The key
// is staged in a heap copy for the call: crypto/ed25519 retains a weak
// reference to the key memory it is handed, and weak references must
// point into the heap, which the mmap-backed buffer is not. The copy
// is zeroed before returning; the buffer keeps the authoritative key.
func (k *KeyBundle) Sign(message []byte) []byte {
	staged := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(staged, k.SigningPrivate.Bytes())
	signature := ed25519.Sign(staged, message)
	for i := range staged {
		staged[i] = 0
	}
	return signature
}

// Close releases the private key memory. Idempotent.
func (k *KeyBundle) Close() error {
	var firstError error
	if k.SigningPrivate != nil {
		firstError = k.SigningPrivate.Close()
	}
	if k.ExchangePrivate != nil {
		if err := k.ExchangePrivate.Close(); err != nil && firstError == nil {
			firstError = err
		}
	}
	return firstError
}
