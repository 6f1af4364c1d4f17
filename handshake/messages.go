// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package handshake implements the mutual-authentication key exchange
// that precedes every encrypted session: a signed Init from the
// caller, a signed Reply from the proxy, and an encrypted
// key-confirmation frame that proves the caller derived the same
// session keys.
//
// Authentication is asymmetric in mechanism but mutual in effect. The
// Init carries no identity claim; the proxy attributes it by checking
// the signature against every authorized peer key. The Reply signature
// covers the initiator's nonce, so a caller that verifies it knows the
// responder both holds the expected signing key and saw this exact
// exchange.
package handshake

import (
	"crypto/rand"
	"fmt"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/codec"
)

// NonceSize is the length of the random nonce each side contributes.
const NonceSize = 32

// Signing domain labels. Distinct per message type so a signature
// produced for one role can never be replayed as the other.
var (
	initSigningDomain  = []byte("handshake-init-v1")
	replySigningDomain = []byte("handshake-reply-v1")
)

// Init opens a handshake. The signature covers the ephemeral key and
// nonce under the init domain; the signing key is identified by
// trying every authorized peer.
type Init struct {
	// EphemeralPublicKey is the initiator's fresh X25519 public key.
	EphemeralPublicKey []byte `cbor:"ephemeral_public_key"`

	// Nonce is NonceSize random bytes, bound into the reply signature
	// and the key-derivation transcript.
	Nonce []byte `cbor:"nonce"`

	// Signature is Ed25519 over the init signing message.
	Signature []byte `cbor:"signature"`
}

// Reply answers an Init. Its signature additionally covers the
// initiator's ephemeral key and nonce, binding the reply to the
// exchange it answers.
type Reply struct {
	// SessionID identifies the established session in subsequent
	// requests. Derived from the shared secret, so both sides compute
	// the same value independently; it is included here as a
	// convenience and cross-check.
	SessionID string `cbor:"session_id"`

	EphemeralPublicKey []byte `cbor:"ephemeral_public_key"`
	Nonce              []byte `cbor:"nonce"`
	Signature          []byte `cbor:"signature"`
}

// Finish carries the key-confirmation frame: the caller's first
// encrypted frame (counter 1) wrapping a confirm payload.
type Finish struct {
	SessionID string `cbor:"session_id"`
	Frame     []byte `cbor:"frame"`
}

// confirmPayload is the plaintext inside the confirmation frame.
type confirmPayload struct {
	Type      string `cbor:"type"`
	SessionID string `cbor:"session_id"`
}

const confirmType = "key-confirm"

// initSigningMessage is what the initiator signs.
func initSigningMessage(ephemeralPublic, nonce []byte) []byte {
	message := make([]byte, 0, len(initSigningDomain)+len(ephemeralPublic)+len(nonce))
	message = append(message, initSigningDomain...)
	message = append(message, ephemeralPublic...)
	message = append(message, nonce...)
	return message
}

// replySigningMessage is what the responder signs: its own ephemeral
// key and nonce, then the initiator's, under the reply domain.
func replySigningMessage(replyEphemeral, replyNonce, initEphemeral, initNonce []byte) []byte {
	message := make([]byte, 0, len(replySigningDomain)+len(replyEphemeral)+len(replyNonce)+len(initEphemeral)+len(initNonce))
	message = append(message, replySigningDomain...)
	message = append(message, replyEphemeral...)
	message = append(message, replyNonce...)
	message = append(message, initEphemeral...)
	message = append(message, initNonce...)
	return message
}

// encodeConfirm serializes the confirmation payload for a session.
func encodeConfirm(sessionID string) ([]byte, error) {
	return codec.Marshal(confirmPayload{Type: confirmType, SessionID: sessionID})
}

// decodeConfirm parses and validates a decrypted confirmation payload.
func decodeConfirm(plaintext []byte, sessionID string) error {
	var payload confirmPayload
	if err := codec.Unmarshal(plaintext, &payload); err != nil {
		return fmt.Errorf("parsing confirmation payload: %w", err)
	}
	if payload.Type != confirmType {
		return fmt.Errorf("confirmation payload type %q, want %q", payload.Type, confirmType)
	}
	if payload.SessionID != sessionID {
		return fmt.Errorf("confirmation payload names a different session")
	}
	return nil
}

// newNonce returns NonceSize bytes from the system CSPRNG.
func newNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, nil
}
