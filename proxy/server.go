// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package proxy is the server core: it terminates the handshake,
// owns the session registry, and dispatches decrypted application
// requests through per-caller routes. Secrets are resolved once at
// startup and never leave the process; callers see secret names,
// substituted requests, and nothing else.
package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/audit"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/channel"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/handshake"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/identity"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/clock"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/codec"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/route"
	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/session"
)

// SessionHeader carries the session identifier on Finish and Request
// calls.
const SessionHeader = "X-Session-Id"

// maxRequestBytes caps inbound request bodies.
const maxRequestBytes = 16 << 20

// contentTypeCBOR is the wire content type for handshake messages and
// handshake responses. Encrypted frames are opaque octet streams.
const contentTypeCBOR = "application/cbor"

// ServerOptions wires a Server's collaborators.
type ServerOptions struct {
	Identity *identity.KeyBundle
	Peers    identity.AuthorizedSet

	// Catalog and Callers drive per-caller route resolution; Environ
	// supplies secret values (os.Getenv, possibly layered behind a
	// sealed bundle).
	Catalog route.Catalog
	Callers map[string]route.CallerProfile
	Environ route.EnvFunc

	Registry *session.Registry
	Audit    *audit.Log
	Clock    clock.Clock
	Logger   *slog.Logger

	// RateLimitPerMinute bounds requests per session. Zero disables.
	RateLimitPerMinute int

	// UpstreamClient performs proxied calls; its Timeout is the
	// upstream deadline.
	UpstreamClient *http.Client
}

// Server handles the four proxy operations: handshake init, handshake
// finish, encrypted request, and health.
type Server struct {
	responder  *handshake.Responder
	dispatcher *Dispatcher

	catalog  route.Catalog
	callers  map[string]route.CallerProfile
	environ  route.EnvFunc
	registry *session.Registry
	audit    *audit.Log
	clock    clock.Clock
	logger   *slog.Logger

	rateLimit int
	startTime time.Time
}

// NewServer builds a server from its options.
func NewServer(options ServerOptions) *Server {
	return &Server{
		responder:  handshake.NewResponder(options.Identity, options.Peers),
		dispatcher: NewDispatcher(options.UpstreamClient, options.Logger),
		catalog:    options.Catalog,
		callers:    options.Callers,
		environ:    options.Environ,
		registry:   options.Registry,
		audit:      options.Audit,
		clock:      options.Clock,
		logger:     options.Logger,
		rateLimit:  options.RateLimitPerMinute,
		startTime:  options.Clock.Now(),
	}
}

// Handler returns the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/handshake/init", requireMethod(http.MethodPost, s.handleInit))
	mux.HandleFunc("/handshake/finish", requireMethod(http.MethodPost, s.handleFinish))
	mux.HandleFunc("/request", requireMethod(http.MethodPost, s.handleRequest))
	mux.HandleFunc("/health", requireMethod(http.MethodGet, s.handleHealth))
	return mux
}

// requireMethod reproduces the method matching of Go 1.22+ ServeMux
// patterns ("POST /path") on toolchains that predate them: a mismatch
// yields 405 with an Allow header, and GET also accepts HEAD.
func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			w.Header().Set("Allow", method)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleInit processes a handshake opening. The session is registered
// before the reply is written, so a request racing the reply already
// resolves.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "reading handshake: %v", err))
		return
	}

	var init handshake.Init
	if err := codec.Unmarshal(body, &init); err != nil {
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "malformed handshake init"))
		return
	}

	reply, established, err := s.responder.ProcessInit(init)
	if err != nil {
		if errors.Is(err, handshake.ErrNotAuthorized) {
			s.audit.Record("handshake_rejected", "", "", map[string]any{"reason": "not authorized"})
			s.writePlainError(w, Errorf(CodeNotAuthorized, "not authorized"))
			return
		}
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "%v", err))
		return
	}

	sessionChannel, err := channel.New(established.Keys, channel.RoleServer)
	if err != nil {
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "establishing channel: %v", err))
		return
	}

	routes := route.ResolveRoutes(s.callers[established.Peer.Alias], s.catalog, s.environ, s.logger)
	now := s.clock.Now()
	s.registry.Add(&session.Session{
		ID:        established.SessionID,
		Alias:     established.Peer.Alias,
		Channel:   sessionChannel,
		Routes:    routes,
		CreatedAt: now,
	})

	s.logger.Info("session opened",
		"session_id", audit.TruncateSessionID(established.SessionID),
		"alias", established.Peer.Alias,
		"routes", len(routes),
	)
	s.audit.Record("session_opened", established.SessionID, established.Peer.Alias,
		map[string]any{"routes": len(routes)})

	s.writeCBOR(w, http.StatusOK, reply)
}

// finishResponse acknowledges a verified key confirmation.
type finishResponse struct {
	Status    string `cbor:"status"`
	SessionID string `cbor:"sessionId"`
}

// handleFinish verifies the key-confirmation frame. A confirmation
// that fails to decrypt or names the wrong session proves the caller
// does not hold the derived keys; the session is dropped immediately.
// The pending record is consumed by the first successful Finish: a
// later Finish for the same session, whether a client retry or a
// replayed capture, returns not-found and leaves the established
// session untouched.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	sess, failure := s.resolveSession(r)
	if failure != nil {
		s.writePlainError(w, failure)
		return
	}
	if !s.registry.Pending(sess.ID) {
		s.writePlainError(w, Errorf(CodeSessionNotFound, "no pending handshake for session"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "reading finish: %v", err))
		return
	}
	var finish handshake.Finish
	if err := codec.Unmarshal(body, &finish); err != nil {
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "malformed handshake finish"))
		return
	}

	plaintext, err := sess.Channel.Decrypt(finish.Frame)
	if err == nil {
		err = handshake.VerifyConfirm(plaintext, sess.ID)
	}
	if err != nil {
		s.logger.Warn("key confirmation failed",
			"session_id", audit.TruncateSessionID(sess.ID),
			"error", err,
		)
		s.registry.Remove(sess.ID)
		s.audit.Record("handshake_rejected", sess.ID, sess.Alias,
			map[string]any{"reason": "bad confirmation"})
		s.writePlainError(w, Errorf(CodeHandshakeFailed, "key confirmation failed"))
		return
	}

	s.registry.Confirm(sess.ID)
	s.audit.Record("session_confirmed", sess.ID, sess.Alias, nil)
	s.writeCBOR(w, http.StatusOK, finishResponse{Status: "established", SessionID: sess.ID})
}

// handleRequest decrypts, dispatches, and re-encrypts one application
// request. Frame-level failures come back as plain errors (the
// envelope they belong to is unknown); everything after a successful
// decrypt comes back inside an encrypted envelope.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	sess, failure := s.resolveSession(r)
	if failure != nil {
		s.writePlainError(w, failure)
		return
	}

	frame, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		s.writePlainError(w, Errorf(CodeReplayRejected, "reading frame: %v", err))
		return
	}

	plaintext, err := sess.Channel.Decrypt(frame)
	if err != nil {
		if errors.Is(err, channel.ErrClosed) {
			s.writePlainError(w, Errorf(CodeSessionNotFound, "session not found"))
			return
		}
		// One generic code and message for replay, gap, and tampering:
		// the distinction is logged, never returned.
		s.logger.Warn("frame rejected",
			"session_id", audit.TruncateSessionID(sess.ID),
			"error", err,
		)
		s.writePlainError(w, Errorf(CodeReplayRejected, "frame rejected"))
		return
	}

	now := s.clock.Now()
	sess.Touch(now)

	var envelope RequestEnvelope
	if err := codec.Unmarshal(plaintext, &envelope); err != nil {
		s.writeEncrypted(w, sess, failureEnvelope("",
			Errorf(CodeHandlerFailure, "malformed request envelope"), now))
		return
	}

	if !sess.AllowRequest(now, s.rateLimit, time.Minute) {
		s.audit.Record("request_denied", sess.ID, sess.Alias,
			map[string]any{"code": string(CodeRateLimited)})
		s.writeEncrypted(w, sess, failureEnvelope(envelope.ID,
			Errorf(CodeRateLimited, "request budget exhausted for this window"), now))
		return
	}

	result, dispatchFailure := s.dispatcher.Dispatch(r.Context(), sess, envelope)
	if dispatchFailure != nil {
		s.audit.Record("request_denied", sess.ID, sess.Alias,
			map[string]any{"code": string(dispatchFailure.Code), "tool": envelope.ToolName})
		s.writeEncrypted(w, sess, failureEnvelope(envelope.ID, dispatchFailure, now))
		return
	}

	s.audit.Record("request_allowed", sess.ID, sess.Alias,
		map[string]any{"tool": envelope.ToolName})
	s.writeEncrypted(w, sess, successEnvelope(envelope.ID, result, now))
}

// healthResponse is the unencrypted liveness report. Never contains
// secret material.
type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	UptimeSeconds  int64  `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:         "ok",
		ActiveSessions: s.registry.Count(),
		UptimeSeconds:  int64(s.clock.Now().Sub(s.startTime).Seconds()),
	})
}

// resolveSession extracts and resolves the session header.
func (s *Server) resolveSession(r *http.Request) (*session.Session, *Error) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		return nil, Errorf(CodeMissingSessionHeader, "missing %s header", SessionHeader)
	}
	sess := s.registry.Lookup(sessionID)
	if sess == nil {
		return nil, Errorf(CodeSessionNotFound, "session not found")
	}
	return sess, nil
}

// writeEncrypted seals a response envelope into the session's send
// direction. If even that fails the session keys are unusable and the
// session cannot continue: evict it and fall back to a plain error.
func (s *Server) writeEncrypted(w http.ResponseWriter, sess *session.Session, envelope ResponseEnvelope) {
	plaintext, err := codec.Marshal(envelope)
	var frame []byte
	if err == nil {
		frame, err = sess.Channel.Encrypt(plaintext)
	}
	if err != nil {
		s.logger.Error("response encryption failed, evicting session",
			"session_id", audit.TruncateSessionID(sess.ID),
			"error", err,
		)
		s.registry.Remove(sess.ID)
		s.writePlainError(w, Errorf(CodeHandlerFailure, "session unrecoverable"))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(frame)
}

// plainError is the unencrypted error body used before a session's
// channel exists (or after it is beyond use).
type plainError struct {
	Code  Code   `json:"code"`
	Error string `json:"error"`
}

func (s *Server) writePlainError(w http.ResponseWriter, failure *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.HTTPStatus())
	json.NewEncoder(w).Encode(plainError{Code: failure.Code, Error: failure.Message})
}

func (s *Server) writeCBOR(w http.ResponseWriter, status int, value any) {
	encoded, err := codec.Marshal(value)
	if err != nil {
		s.writePlainError(w, Errorf(CodeHandlerFailure, "encoding response: %v", err))
		return
	}
	w.Header().Set("Content-Type", contentTypeCBOR)
	w.WriteHeader(status)
	w.Write(encoded)
}

// EvictionRecorder adapts the audit log into the registry's eviction
// hook.
func EvictionRecorder(log *audit.Log) func(*session.Session, session.EvictionReason) {
	return func(sess *session.Session, reason session.EvictionReason) {
		log.Record("session_evicted", sess.ID, sess.Alias,
			map[string]any{"reason": string(reason)})
	}
}

// BuildEnviron layers an optional sealed credential bundle over the
// process environment.
func BuildEnviron(config *Config) (route.EnvFunc, error) {
	if config.SealedBundle == "" {
		return os.Getenv, nil
	}
	bundle, err := route.LoadSealedBundle(config.SealedBundle, config.BundleIdentity)
	if err != nil {
		return nil, fmt.Errorf("loading sealed bundle: %w", err)
	}
	return route.ChainEnv(bundle, os.Getenv), nil
}
