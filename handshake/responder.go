// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
)

// ErrNotAuthorized is returned when an Init signature verifies under
// none of the authorized peer keys. Deliberately unspecific: the
// caller learns nothing about which keys the proxy would accept.
var ErrNotAuthorized = errors.New("not authorized")

// Established is the outcome of a successful key exchange: everything
// the server needs to register a session.
type Established struct {
	SessionID string
	Keys      channel.Keys

	// Peer is the authorized caller the Init signature attributed.
	Peer identity.Peer
}

// Responder is the server side of the handshake.
type Responder struct {
	bundle *identity.KeyBundle
	peers  identity.AuthorizedSet
}

// NewResponder creates a responder for one identity and its
// authorized-peer set.
func NewResponder(bundle *identity.KeyBundle, peers identity.AuthorizedSet) *Responder {
	return &Responder{bundle: bundle, peers: peers}
}

// ProcessInit validates an Init, attributes it to an authorized peer,
// and completes the key exchange. On success the reply is ready to
// send and Established holds the derived session material; the caller
// registers the session before responding so a request racing the
// reply still resolves.
func (r *Responder) ProcessInit(init Init) (*Reply, *Established, error) {
	if err := validateInitShape(init); err != nil {
		return nil, nil, err
	}

	peer := r.peers.VerifyAny(initSigningMessage(init.EphemeralPublicKey, init.Nonce), init.Signature)
	if peer == nil {
		return nil, nil, ErrNotAuthorized
	}

	ephemeralPrivate := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephemeralPrivate); err != nil {
		return nil, nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	defer zero(ephemeralPrivate)

	ephemeralPublic, err := curve25519.X25519(ephemeralPrivate, curve25519.Basepoint)
	if err != nil {
		return nil, nil, fmt.Errorf("deriving ephemeral public key: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, nil, err
	}

	transcriptBytes := transcript(init.EphemeralPublicKey, init.Nonce, ephemeralPublic, nonce)
	keys, sessionID, err := deriveSession(ephemeralPrivate, init.EphemeralPublicKey, transcriptBytes)
	if err != nil {
		return nil, nil, err
	}

	signature := r.bundle.Sign(replySigningMessage(ephemeralPublic, nonce, init.EphemeralPublicKey, init.Nonce))

	reply := &Reply{
		SessionID:          sessionID,
		EphemeralPublicKey: ephemeralPublic,
		Nonce:              nonce,
		Signature:          signature,
	}
	established := &Established{
		SessionID: sessionID,
		Keys:      keys,
		Peer:      *peer,
	}
	return reply, established, nil
}

// VerifyConfirm validates a decrypted key-confirmation payload against
// the session it should name. The decryption itself, which is what
// actually proves key agreement, happens on the session's channel
// before this is called.
func VerifyConfirm(plaintext []byte, sessionID string) error {
	return decodeConfirm(plaintext, sessionID)
}

func validateInitShape(init Init) error {
	if len(init.EphemeralPublicKey) != curve25519.PointSize {
		return fmt.Errorf("ephemeral public key must be %d bytes", curve25519.PointSize)
	}
	if len(init.Nonce) != NonceSize {
		return fmt.Errorf("nonce must be %d bytes", NonceSize)
	}
	if len(init.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes", ed25519.SignatureSize)
	}
	return nil
}
