// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"fmt"
	"net/http"
)

// Code classifies a proxy error. Codes are part of the client-visible
// contract: callers branch on them, so they are stable strings.
type Code string

const (
	// CodeNotAuthorized: the handshake signature matched no authorized
	// peer.
	CodeNotAuthorized Code = "NotAuthorized"

	// CodeHandshakeFailed: malformed handshake message or failed key
	// confirmation.
	CodeHandshakeFailed Code = "HandshakeFailed"

	// CodeMissingSessionHeader: the session header is absent.
	CodeMissingSessionHeader Code = "MissingSessionHeader"

	// CodeSessionNotFound: the session ID resolves to nothing, usually
	// because the session expired.
	CodeSessionNotFound Code = "SessionNotFound"

	// CodeReplayRejected: an encrypted frame was rejected. Covers
	// duplicate counters, counter gaps, and authentication failures
	// alike; the distinction is logged server-side, never returned.
	CodeReplayRejected Code = "ReplayRejected"

	// CodeRateLimited: the session exceeded its request budget for the
	// current window.
	CodeRateLimited Code = "RateLimitExceeded"

	// CodeEndpointNotAllowed: the request URL matched no route
	// allow-list, or failed the post-substitution re-check.
	CodeEndpointNotAllowed Code = "EndpointNotAllowed"

	// CodeHeaderConflict: a client-supplied header collides with a
	// header the matched route auto-injects.
	CodeHeaderConflict Code = "HeaderConflict"

	// CodeUnknownTool: the envelope names a tool the dispatcher does
	// not implement.
	CodeUnknownTool Code = "UnknownTool"

	// CodeHandlerFailure: the tool itself failed: malformed input,
	// upstream HTTP failure, timeout.
	CodeHandlerFailure Code = "HandlerFailure"
)

// Error is a classified proxy failure. It carries the taxonomy code
// for the client and the HTTP status for the plain (pre-session)
// boundary.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a classified error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps a code to the status used when the error must be
// returned unencrypted.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotAuthorized, CodeEndpointNotAllowed:
		return http.StatusForbidden
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeHandlerFailure:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}
