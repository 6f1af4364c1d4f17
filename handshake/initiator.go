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

// ErrReplyRejected is returned when the responder's signature does not
// verify, meaning either the wrong responder answered or the exchange
// was tampered with in flight.
var ErrReplyRejected = errors.New("reply signature rejected")

// Initiator is the client side of the handshake. One Initiator drives
// one exchange: CreateInit, send, ProcessReply.
type Initiator struct {
	bundle    *identity.KeyBundle
	responder identity.PublicKeyBundle

	ephemeralPrivate []byte
	init             *Init
}

// NewInitiator creates an initiator for one exchange with the
// responder identified by its published key bundle.
func NewInitiator(bundle *identity.KeyBundle, responder identity.PublicKeyBundle) *Initiator {
	return &Initiator{bundle: bundle, responder: responder}
}

// CreateInit builds the signed opening message. The ephemeral private
// key stays inside the Initiator until ProcessReply consumes it.
func (i *Initiator) CreateInit() (*Init, error) {
	if i.init != nil {
		return nil, errors.New("initiator already used")
	}

	ephemeralPrivate := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(ephemeralPrivate); err != nil {
		return nil, fmt.Errorf("generating ephemeral key: %w", err)
	}
	ephemeralPublic, err := curve25519.X25519(ephemeralPrivate, curve25519.Basepoint)
	if err != nil {
		zero(ephemeralPrivate)
		return nil, fmt.Errorf("deriving ephemeral public key: %w", err)
	}

	nonce, err := newNonce()
	if err != nil {
		zero(ephemeralPrivate)
		return nil, err
	}

	init := &Init{
		EphemeralPublicKey: ephemeralPublic,
		Nonce:              nonce,
		Signature:          i.bundle.Sign(initSigningMessage(ephemeralPublic, nonce)),
	}
	i.ephemeralPrivate = ephemeralPrivate
	i.init = init
	return init, nil
}

// ProcessReply verifies the responder's signature, derives the session
// keys, and cross-checks the responder's session ID against the
// locally derived one. The ephemeral private key is zeroed regardless
// of outcome.
func (i *Initiator) ProcessReply(reply Reply) (channel.Keys, string, error) {
	if i.init == nil {
		return channel.Keys{}, "", errors.New("ProcessReply before CreateInit")
	}
	defer func() {
		zero(i.ephemeralPrivate)
		i.ephemeralPrivate = nil
	}()

	if err := validateReplyShape(reply); err != nil {
		return channel.Keys{}, "", err
	}

	message := replySigningMessage(reply.EphemeralPublicKey, reply.Nonce, i.init.EphemeralPublicKey, i.init.Nonce)
	if !i.responder.Verify(message, reply.Signature) {
		return channel.Keys{}, "", ErrReplyRejected
	}

	transcriptBytes := transcript(i.init.EphemeralPublicKey, i.init.Nonce, reply.EphemeralPublicKey, reply.Nonce)
	keys, sessionID, err := deriveSession(i.ephemeralPrivate, reply.EphemeralPublicKey, transcriptBytes)
	if err != nil {
		return channel.Keys{}, "", err
	}
	if reply.SessionID != sessionID {
		return channel.Keys{}, "", errors.New("responder session ID does not match derived ID")
	}
	return keys, sessionID, nil
}

// BuildFinish encrypts the key-confirmation payload as the channel's
// first frame. Must be the first Encrypt on the channel: the confirm
// frame is defined to carry counter 1.
func BuildFinish(ch *channel.Channel, sessionID string) (*Finish, error) {
	payload, err := encodeConfirm(sessionID)
	if err != nil {
		return nil, fmt.Errorf("encoding confirmation: %w", err)
	}
	frame, err := ch.Encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("encrypting confirmation: %w", err)
	}
	return &Finish{SessionID: sessionID, Frame: frame}, nil
}

func validateReplyShape(reply Reply) error {
	if len(reply.EphemeralPublicKey) != curve25519.PointSize {
		return fmt.Errorf("ephemeral public key must be %d bytes", curve25519.PointSize)
	}
	if len(reply.Nonce) != NonceSize {
		return fmt.Errorf("nonce must be %d bytes", NonceSize)
	}
	if len(reply.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("signature must be %d bytes", ed25519.SignatureSize)
	}
	return nil
}
