// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/crypto/curve25519"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/secret"
)

// keyFile is the on-disk JSON layout of a key bundle. Key material is
// base64. The file is written with mode 0600; private fields are
// moved into secret buffers immediately on load and the intermediate
// heap copies zeroed.
type keyFile struct {
	SigningPrivateKey  string `json:"signing_private_key"`
	ExchangePrivateKey string `json:"exchange_private_key"`
	SigningPublicKey   string `json:"signing_public_key"`
	ExchangePublicKey  string `json:"exchange_public_key"`
}

// SaveKeyBundle writes the bundle to path as JSON with mode 0600.
func SaveKeyBundle(path string, bundle *KeyBundle) error {
	file := keyFile{
		SigningPrivateKey:  base64.StdEncoding.EncodeToString(bundle.SigningPrivate.Bytes()),
		ExchangePrivateKey: base64.StdEncoding.EncodeToString(bundle.ExchangePrivate.Bytes()),
		SigningPublicKey:   base64.StdEncoding.EncodeToString(bundle.Public.SigningKey),
		ExchangePublicKey:  base64.StdEncoding.EncodeToString(bundle.Public.ExchangeKey),
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding key bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing key bundle: %w", err)
	}
	return nil
}

// LoadKeyBundle reads a key bundle from path. Private keys are placed
// in secret buffers; the caller must Close the returned bundle.
func LoadKeyBundle(path string) (*KeyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key bundle: %w", err)
	}

	var file keyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing key bundle %s: %w", path, err)
	}

	signingPrivate, err := base64.StdEncoding.DecodeString(file.SigningPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding signing private key: %w", err)
	}
	exchangePrivate, err := base64.StdEncoding.DecodeString(file.ExchangePrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding exchange private key: %w", err)
	}
	signingPublic, err := base64.StdEncoding.DecodeString(file.SigningPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding signing public key: %w", err)
	}
	exchangePublic, err := base64.StdEncoding.DecodeString(file.ExchangePublicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding exchange public key: %w", err)
	}

	if len(signingPrivate) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing private key has %d bytes, want %d", len(signingPrivate), ed25519.PrivateKeySize)
	}
	if len(exchangePrivate) != curve25519.ScalarSize {
		return nil, fmt.Errorf("exchange private key has %d bytes, want %d", len(exchangePrivate), curve25519.ScalarSize)
	}

	// NewFromBytes zeroes the decoded heap copies.
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

// ParsePublicKeyBundle builds a PublicKeyBundle from base64-encoded
// signing and exchange public keys (the format peers publish and
// config files carry).
func ParsePublicKeyBundle(signingKey, exchangeKey string) (PublicKeyBundle, error) {
	signing, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		return PublicKeyBundle{}, fmt.Errorf("decoding signing key: %w", err)
	}
	exchange, err := base64.StdEncoding.DecodeString(exchangeKey)
	if err != nil {
		return PublicKeyBundle{}, fmt.Errorf("decoding exchange key: %w", err)
	}
	if len(signing) != ed25519.PublicKeySize {
		return PublicKeyBundle{}, fmt.Errorf("signing key has %d bytes, want %d", len(signing), ed25519.PublicKeySize)
	}
	if len(exchange) != curve25519.PointSize {
		return PublicKeyBundle{}, fmt.Errorf("exchange key has %d bytes, want %d", len(exchange), curve25519.PointSize)
	}
	return PublicKeyBundle{SigningKey: signing, ExchangeKey: exchange}, nil
}
