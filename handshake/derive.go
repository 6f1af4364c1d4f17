// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package handshake

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
)

// HKDF info strings. One per direction, so the two channel keys are
// independent even though they come from the same shared secret.
const (
	clientToServerInfo = "proxy.session.c2s.v1"
	serverToClientInfo = "proxy.session.s2c.v1"
)

// sessionIDBytes is how much of the keyed transcript hash becomes the
// session identifier. 16 bytes (32 hex characters) is collision-proof
// at any plausible session count.
const sessionIDBytes = 16

// transcript concatenates the public handshake values in a fixed
// order. Both sides compute the identical byte string, which anchors
// the HKDF salt and the session ID to this specific exchange.
func transcript(initEphemeral, initNonce, replyEphemeral, replyNonce []byte) []byte {
	combined := make([]byte, 0, len(initEphemeral)+len(initNonce)+len(replyEphemeral)+len(replyNonce))
	combined = append(combined, initEphemeral...)
	combined = append(combined, initNonce...)
	combined = append(combined, replyEphemeral...)
	combined = append(combined, replyNonce...)
	return combined
}

// deriveSession turns an X25519 agreement into the directional channel
// keys and the session ID.
//
//	shared    = X25519(ourEphemeralPrivate, theirEphemeralPublic)
//	salt      = BLAKE3(transcript)
//	key_dir   = HKDF-SHA256(shared, salt, info_dir)
//	sessionID = hex(BLAKE3_keyed(shared, transcript)[:16])
//
// The caller zeroes the ephemeral private key after this returns.
func deriveSession(ephemeralPrivate, peerEphemeralPublic, transcriptBytes []byte) (channel.Keys, string, error) {
	shared, err := curve25519.X25519(ephemeralPrivate, peerEphemeralPublic)
	if err != nil {
		return channel.Keys{}, "", fmt.Errorf("computing shared secret: %w", err)
	}
	defer zero(shared)

	salt := blake3.Sum256(transcriptBytes)

	clientToServer, err := expandKey(shared, salt[:], clientToServerInfo)
	if err != nil {
		return channel.Keys{}, "", err
	}
	serverToClient, err := expandKey(shared, salt[:], serverToClientInfo)
	if err != nil {
		return channel.Keys{}, "", err
	}

	keyed, err := blake3.NewKeyed(shared)
	if err != nil {
		return channel.Keys{}, "", fmt.Errorf("keying session ID hash: %w", err)
	}
	keyed.Write(transcriptBytes)
	digest := keyed.Sum(nil)
	sessionID := hex.EncodeToString(digest[:sessionIDBytes])

	return channel.Keys{
		ClientToServer: clientToServer,
		ServerToClient: serverToClient,
	}, sessionID, nil
}

func expandKey(shared, salt []byte, info string) ([]byte, error) {
	key := make([]byte, channel.KeySize)
	reader := hkdf.New(sha256.New, shared, salt, []byte(info))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("expanding %s key: %w", info, err)
	}
	return key, nil
}

func zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
