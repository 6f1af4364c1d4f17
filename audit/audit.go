// Copyright 2026 WolpertingerLabs
// SPDX-License-Identifier: Apache-2.0

// Package audit appends proxy activity to a JSONL log. Entries record
// what happened, never secret values; session IDs are truncated so the
// log cannot be used to hijack a live session. Appending is
// best-effort: an audit failure is logged, not propagated, because a
// full disk must not take the proxy down.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/WolpertingerLabs/mcp-secure-proxy-sub000/lib/clock"
)

const (
	defaultMaxBytes   = int64(4 << 20)
	defaultMaxBackups = 3

	// sessionIDPrefixLength is how much of a session ID appears in the
	// log. Enough to correlate entries, not enough to replay.
	sessionIDPrefixLength = 8
)

// Entry is one audit record.
type Entry struct {
	CreatedAt string `json:"created_at"`

	// Action is a short stable identifier: "session_opened",
	// "session_confirmed", "session_evicted", "request_allowed",
	// "request_denied".
	Action string `json:"action"`

	// SessionID is the truncated session identifier.
	SessionID string `json:"session_id,omitempty"`

	// Alias names the authenticated caller.
	Alias string `json:"alias,omitempty"`

	// Detail carries small action-specific fields. Never secrets.
	Detail map[string]any `json:"detail,omitempty"`
}

// Log writes entries to a size-rotated JSONL file. A nil Log discards
// everything, so callers never guard Record with a nil check.
type Log struct {
	logger *slog.Logger
	clock  clock.Clock

	directory  string
	activePath string
	maxBytes   int64
	maxBackups int

	mutex sync.Mutex
}

// Options configures a Log.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock

	// Directory holds the active file (events.jsonl) and rotated
	// backups (events-<unix_ms>.jsonl).
	Directory string

	// MaxBytes is the rotation threshold for the active file.
	MaxBytes int64

	// MaxBackups bounds the rotated files kept alongside the active
	// one.
	MaxBackups int
}

// New creates the audit directory and the active log file. Returns
// (nil, nil) when Directory is empty: auditing disabled.
func New(options Options) (*Log, error) {
	if strings.TrimSpace(options.Directory) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(options.Directory, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	if options.MaxBytes <= 0 {
		options.MaxBytes = defaultMaxBytes
	}
	if options.MaxBackups <= 0 {
		options.MaxBackups = defaultMaxBackups
	}

	activePath := filepath.Join(options.Directory, "events.jsonl")
	file, err := os.OpenFile(activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	file.Close()

	return &Log{
		logger:     options.Logger,
		clock:      options.Clock,
		directory:  options.Directory,
		activePath: activePath,
		maxBytes:   options.MaxBytes,
		maxBackups: options.MaxBackups,
	}, nil
}

// Record appends one entry. sessionID is truncated before it is
// written; detail must not contain secret values.
func (l *Log) Record(action, sessionID, alias string, detail map[string]any) {
	if l == nil {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	entry := Entry{
		CreatedAt: l.clock.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		SessionID: TruncateSessionID(sessionID),
		Alias:     alias,
		Detail:    detail,
	}

	file, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		l.logger.Warn("audit append failed", "error", err)
		return
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(&entry); err != nil {
		l.logger.Warn("audit encode failed", "error", err)
		return
	}

	l.maybeRotateLocked()
}

// TruncateSessionID shortens a session ID for log output.
func TruncateSessionID(sessionID string) string {
	if len(sessionID) > sessionIDPrefixLength {
		return sessionID[:sessionIDPrefixLength]
	}
	return sessionID
}

func (l *Log) maybeRotateLocked() {
	info, err := os.Stat(l.activePath)
	if err != nil || info.Size() <= l.maxBytes {
		return
	}

	rotatedPath := filepath.Join(l.directory,
		fmt.Sprintf("events-%d.jsonl", l.clock.Now().UnixMilli()))
	if err := os.Rename(l.activePath, rotatedPath); err != nil {
		l.logger.Warn("audit rotate failed", "error", err)
		return
	}
	if file, err := os.OpenFile(l.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600); err == nil {
		file.Close()
	}

	entries, err := os.ReadDir(l.directory)
	if err != nil {
		return
	}
	var rotated []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		rotated = append(rotated, name)
	}
	// Names embed UnixMilli, so lexicographic order is age order.
	sort.Strings(rotated)
	if len(rotated) <= l.maxBackups {
		return
	}
	for _, name := range rotated[:len(rotated)-l.maxBackups] {
		os.Remove(filepath.Join(l.directory, name))
	}
}
