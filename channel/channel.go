// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package channel implements the per-session encrypted transport:
// XChaCha20-Poly1305 AEAD framing with independent keys and strictly
// monotonic counters for each traffic direction.
//
// Each frame binds its counter twice, as the nonce prefix and as
// authenticated associated data, and transmits it in clear so the
// receiver can reject replays and reordering before attempting
// decryption. A counter is accepted only when it is exactly one past
// the last accepted counter in that direction; the receive counter
// never advances on rejection, so replaying a previously accepted
// frame always fails.
//
// A channel serializes its encrypt and decrypt operations behind a
// mutex. Two requests racing on one session would otherwise interleave
// counter increments and permanently desynchronize the channel;
// independent sessions proceed in parallel.
package channel

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of each directional key.
const KeySize = chacha20poly1305.KeySize

// frameVersion is prepended to every frame and authenticated as AAD;
// tampering with it fails the AEAD open. Protocol constant.
const frameVersion byte = 0x01

// Direction labels, bound into the nonce and AAD so a frame captured
// in one direction can never authenticate in the other.
const (
	labelClientToServer byte = 0x01
	labelServerToClient byte = 0x02
)

// frameHeaderSize is version (1) + counter (8).
const frameHeaderSize = 9

var (
	// ErrClosed is returned for any operation on a closed channel,
	// e.g. after its session has been evicted.
	ErrClosed = errors.New("channel: closed")

	// ErrReplay is returned when a frame's counter is not exactly one
	// past the last accepted counter: a replayed, duplicated, or
	// reordered frame.
	ErrReplay = errors.New("channel: counter mismatch")

	// ErrDecrypt is returned for any authentication or decoding
	// failure. Deliberately generic: the error does not reveal
	// whether the cause was tampering, corruption, or a wrong key.
	ErrDecrypt = errors.New("channel: decrypt failed")
)

// Keys holds the two directional session keys as distinct named
// fields. Encrypting and decrypting with the same key is a
// construction error, not a runtime surprise: New assigns send and
// receive from opposite fields based on the role.
type Keys struct {
	// ClientToServer encrypts initiator→responder traffic.
	ClientToServer []byte

	// ServerToClient encrypts responder→initiator traffic.
	ServerToClient []byte
}

// Role selects which directional key a channel sends with.
type Role int

const (
	// RoleClient sends client→server and receives server→client.
	RoleClient Role = iota + 1

	// RoleServer sends server→client and receives client→server.
	RoleServer
)

// Channel is one endpoint of an established encrypted session.
type Channel struct {
	mu sync.Mutex

	send      cipher.AEAD
	recv      cipher.AEAD
	sendLabel byte
	recvLabel byte

	// Counters hold the last used (send) and last accepted (recv)
	// values; the first frame in each direction is counter 1.
	sendCounter uint64
	recvCounter uint64

	closed bool
}

// New builds a channel endpoint from the directional keys. The
// initiator passes RoleClient, the responder RoleServer; the
// initiator's send key is the responder's receive key and vice versa.
func New(keys Keys, role Role) (*Channel, error) {
	if len(keys.ClientToServer) != KeySize || len(keys.ServerToClient) != KeySize {
		return nil, fmt.Errorf("channel: directional keys must be %d bytes", KeySize)
	}

	clientToServer, err := chacha20poly1305.NewX(keys.ClientToServer)
	if err != nil {
		return nil, fmt.Errorf("channel: creating client→server AEAD: %w", err)
	}
	serverToClient, err := chacha20poly1305.NewX(keys.ServerToClient)
	if err != nil {
		return nil, fmt.Errorf("channel: creating server→client AEAD: %w", err)
	}

	channel := &Channel{}
	switch role {
	case RoleClient:
		channel.send, channel.sendLabel = clientToServer, labelClientToServer
		channel.recv, channel.recvLabel = serverToClient, labelServerToClient
	case RoleServer:
		channel.send, channel.sendLabel = serverToClient, labelServerToClient
		channel.recv, channel.recvLabel = clientToServer, labelClientToServer
	default:
		return nil, fmt.Errorf("channel: invalid role %d", role)
	}
	return channel, nil
}

// Encrypt seals plaintext into a frame under the send key, binding
// the next send counter, and advances the counter. Large payloads are
// transparently compressed before sealing.
func (c *Channel) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	counter := c.sendCounter + 1
	payload := compress(plaintext)

	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload)+c.send.Overhead())
	frame[0] = frameVersion
	binary.BigEndian.PutUint64(frame[1:frameHeaderSize], counter)

	frame = c.send.Seal(frame, c.nonce(c.sendLabel, counter), payload, c.aad(c.sendLabel, counter))
	c.sendCounter = counter
	return frame, nil
}

// Decrypt opens a frame under the receive key. The transmitted counter
// must be exactly recvCounter+1; otherwise the frame is rejected with
// ErrReplay and the counter does not advance. Authentication failures
// return the generic ErrDecrypt.
func (c *Channel) Decrypt(frame []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if len(frame) < frameHeaderSize || frame[0] != frameVersion {
		return nil, ErrDecrypt
	}

	counter := binary.BigEndian.Uint64(frame[1:frameHeaderSize])
	if counter != c.recvCounter+1 {
		if counter <= c.recvCounter {
			return nil, fmt.Errorf("%w: duplicate counter %d (last accepted %d)", ErrReplay, counter, c.recvCounter)
		}
		return nil, fmt.Errorf("%w: counter gap, got %d want %d", ErrReplay, counter, c.recvCounter+1)
	}

	payload, err := c.recv.Open(nil, c.nonce(c.recvLabel, counter), frame[frameHeaderSize:], c.aad(c.recvLabel, counter))
	if err != nil {
		return nil, ErrDecrypt
	}

	plaintext, err := decompress(payload)
	if err != nil {
		return nil, ErrDecrypt
	}

	c.recvCounter = counter
	return plaintext, nil
}

// Close marks the channel unusable. Subsequent Encrypt and Decrypt
// calls fail with ErrClosed; an evicted session's outstanding channel
// references fail rather than silently succeeding.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// nonce builds the 24-byte XChaCha20 nonce: 8-byte big-endian counter,
// direction label, zero padding. Counters never repeat within a
// direction and each direction has its own key, so nonces are unique
// per key for the lifetime of the session.
func (c *Channel) nonce(label byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	binary.BigEndian.PutUint64(nonce[:8], counter)
	nonce[8] = label
	return nonce
}

// aad builds the associated data: version, direction label, counter.
func (c *Channel) aad(label byte, counter uint64) []byte {
	aad := make([]byte, 10)
	aad[0] = frameVersion
	aad[1] = label
	binary.BigEndian.PutUint64(aad[2:], counter)
	return aad
}
