// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package route

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/secret"
)

// SealBundle encrypts a KEY=value credential file to one or more age
// x25519 recipients and writes the ciphertext to outputPath. Used by
// the seal subcommand so route secrets never sit on disk in plaintext.
func SealBundle(plaintext []byte, recipientKeys []string, outputPath string) error {
	if len(recipientKeys) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	output, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating sealed bundle: %w", err)
	}
	defer output.Close()

	writer, err := age.Encrypt(output, recipients...)
	if err != nil {
		return fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return fmt.Errorf("writing plaintext: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// LoadSealedBundle decrypts an age-sealed credential bundle with the
// identity stored at identityPath (AGE-SECRET-KEY-1... format) and
// parses it as KEY=value lines. Blank lines and # comments are
// ignored. The decrypted plaintext is staged in a secret buffer and
// zeroed once parsed; the resulting values are heap strings, as they
// must be to participate in route resolution.
func LoadSealedBundle(bundlePath, identityPath string) (map[string]string, error) {
	identityData, err := os.ReadFile(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading bundle identity: %w", err)
	}
	identityBuffer, err := secret.NewFromBytes(identityData)
	if err != nil {
		return nil, fmt.Errorf("protecting bundle identity: %w", err)
	}
	defer identityBuffer.Close()

	identity, err := age.ParseX25519Identity(strings.TrimSpace(identityBuffer.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing bundle identity: %w", err)
	}

	ciphertext, err := os.Open(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("opening sealed bundle: %w", err)
	}
	defer ciphertext.Close()

	reader, err := age.Decrypt(ciphertext, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting sealed bundle: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted bundle: %w", err)
	}

	plaintextBuffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		return nil, fmt.Errorf("protecting decrypted bundle: %w", err)
	}
	defer plaintextBuffer.Close()

	return parseEnvLines(plaintextBuffer.Bytes())
}

// parseEnvLines parses KEY=value lines into a map.
func parseEnvLines(data []byte) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("sealed bundle line %d: expected KEY=value", lineNumber)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning sealed bundle: %w", err)
	}
	return values, nil
}

// ChainEnv layers a bundle's values in front of a fallback lookup.
// The returned EnvFunc consults the bundle first, then the fallback
// (typically os.Getenv).
func ChainEnv(bundle map[string]string, fallback EnvFunc) EnvFunc {
	return func(name string) string {
		if value, exists := bundle[name]; exists {
			return value
		}
		if fallback == nil {
			return ""
		}
		return fallback(name)
	}
}
