// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/codec"
)

// Envelope types carried inside the encrypted channel.
const (
	envelopeTypeRequest  = "request"
	envelopeTypeResponse = "response"
)

// RequestEnvelope is the plaintext of one encrypted application
// request.
type RequestEnvelope struct {
	Type      string           `cbor:"type"`
	ID        string           `cbor:"id"`
	ToolName  string           `cbor:"toolName"`
	ToolInput codec.RawMessage `cbor:"toolInput"`
	Timestamp int64            `cbor:"timestamp"`
}

// ResponseEnvelope is the plaintext of the encrypted reply. Exactly
// one of Result and Error is set, per Success.
type ResponseEnvelope struct {
	Type      string         `cbor:"type"`
	ID        string         `cbor:"id"`
	Success   bool           `cbor:"success"`
	Result    any            `cbor:"result,omitempty"`
	Error     *EnvelopeError `cbor:"error,omitempty"`
	Timestamp int64          `cbor:"timestamp"`
}

// EnvelopeError is the structured failure carried inside an encrypted
// response. Error detail stays confidential from network observers
// because the whole envelope is encrypted.
type EnvelopeError struct {
	Code    Code   `cbor:"code"`
	Message string `cbor:"message"`
}

func successEnvelope(id string, result any, now time.Time) ResponseEnvelope {
	return ResponseEnvelope{
		Type:      envelopeTypeResponse,
		ID:        id,
		Success:   true,
		Result:    result,
		Timestamp: now.UnixMilli(),
	}
}

func failureEnvelope(id string, failure *Error, now time.Time) ResponseEnvelope {
	return ResponseEnvelope{
		Type:      envelopeTypeResponse,
		ID:        id,
		Success:   false,
		Error:     &EnvelopeError{Code: failure.Code, Message: failure.Message},
		Timestamp: now.UnixMilli(),
	}
}
