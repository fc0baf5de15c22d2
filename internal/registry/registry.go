// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/store"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptySessionID rejects a stream registration with no owner.
	ErrEmptySessionID = errors.New("registry: empty session id")
	// ErrTurnExists rejects registering the same turn id twice.
	ErrTurnExists = errors.New("registry: turn already registered")
)

// =============================================================================
// ENTRIES
// =============================================================================

// chatEntry accumulates one chat turn's streamed state. All fields are
// guarded by the registry mutex.
type chatEntry struct {
	sessionID string
	turnID    string
	modelID   string

	text     strings.Builder
	thinking strings.Builder

	citations       []model.Citation
	inlineCitations []model.InlineCitation

	// Tool execution accumulator. Code concatenates every invocation in
	// the turn; textOffset records where in the response text execution
	// began.
	execToolName string
	execCode     strings.Builder
	execStdout   strings.Builder
	execStderr   strings.Builder
	execStatus   model.ExecStatus
	execError    string
	execFiles    []string
	textOffset   int

	startedAt         time.Time
	thinkingStartedAt time.Time
	thinkingEndedAt   time.Time
	execStartedAt     time.Time
	execEndedAt       time.Time
}

// discoveryEntry accumulates one discovery pass. Mode is captured at
// trigger time and stamped onto every item.
type discoveryEntry struct {
	sessionID string
	turnID    string
	mode      model.DiscoveryMode
	items     []*model.DiscoveryItem
	startedAt time.Time
}

// ChatStream is a read-only snapshot of an in-flight chat turn.
type ChatStream struct {
	SessionID  string
	TurnID     string
	ModelID    string
	Text       string
	Thinking   string
	ExecStatus model.ExecStatus
	StartedAt  time.Time
}

// DiscoveryStream is a read-only snapshot of an in-flight discovery pass.
type DiscoveryStream struct {
	SessionID string
	TurnID    string
	Mode      model.DiscoveryMode
	ItemCount int
	StartedAt time.Time
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry owns every in-flight stream. Completion and cancellation remove
// entries; persistence failures are logged and swallowed so a disk problem
// never wedges the stream core.
type Registry struct {
	mu        sync.Mutex
	chats     map[string]*chatEntry      // turn id -> entry
	discovery map[string]*discoveryEntry // turn id -> entry

	store *store.Store
	live  *live.State
	log   *zap.Logger
}

// New creates a registry writing through st and mirroring into lv.
func New(st *store.Store, lv *live.State, logger *diag.Logger) *Registry {
	if logger == nil {
		logger = diag.Nop()
	}
	return &Registry{
		chats:     make(map[string]*chatEntry),
		discovery: make(map[string]*discoveryEntry),
		store:     st,
		live:      lv,
		log:       logger.For(diag.CategoryRegistry),
	}
}

// setOnce assigns now to t only if t is unset. First caller wins; repeated
// provider start events never shift an established timestamp.
func setOnce(t *time.Time) {
	if t.IsZero() {
		*t = time.Now()
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// StreamByTurnID returns a snapshot of the chat stream for a turn, or
// false.
func (r *Registry) StreamByTurnID(turnID string) (ChatStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chats[turnID]
	if !ok {
		return ChatStream{}, false
	}
	return snapshotChat(e), true
}

// StreamForSession returns a snapshot of the session's in-flight chat
// stream, or false. A session has at most one.
func (r *Registry) StreamForSession(sessionID string) (ChatStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.chats {
		if e.sessionID == sessionID {
			return snapshotChat(e), true
		}
	}
	return ChatStream{}, false
}

// DiscoveryStreamsForSession returns snapshots of the session's in-flight
// discovery passes.
func (r *Registry) DiscoveryStreamsForSession(sessionID string) []DiscoveryStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []DiscoveryStream
	for _, e := range r.discovery {
		if e.sessionID == sessionID {
			out = append(out, DiscoveryStream{
				SessionID: e.sessionID,
				TurnID:    e.turnID,
				Mode:      e.mode,
				ItemCount: len(e.items),
				StartedAt: e.startedAt,
			})
		}
	}
	return out
}

// HasActiveStream reports whether the session has any in-flight chat or
// discovery stream.
func (r *Registry) HasActiveStream(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.chats {
		if e.sessionID == sessionID {
			return true
		}
	}
	for _, e := range r.discovery {
		if e.sessionID == sessionID {
			return true
		}
	}
	return false
}

// ActiveSessionIDs returns the ids of every session with at least one
// in-flight stream. Used to restore activity badges after a UI restart.
func (r *Registry) ActiveSessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range r.chats {
		if !seen[e.sessionID] {
			seen[e.sessionID] = true
			out = append(out, e.sessionID)
		}
	}
	for _, e := range r.discovery {
		if !seen[e.sessionID] {
			seen[e.sessionID] = true
			out = append(out, e.sessionID)
		}
	}
	return out
}

func snapshotChat(e *chatEntry) ChatStream {
	return ChatStream{
		SessionID:  e.sessionID,
		TurnID:     e.turnID,
		ModelID:    e.modelID,
		Text:       e.text.String(),
		Thinking:   e.thinking.String(),
		ExecStatus: e.execStatus,
		StartedAt:  e.startedAt,
	}
}
