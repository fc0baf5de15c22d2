// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package turn

import (
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// TURN IDENTITY
// =============================================================================

// Mint generates a fresh turn id. Called exactly once per user request,
// before any network call; retries and cancellation reuse the same id for
// the life of the exchange.
func Mint() string {
	return "turn_" + uuid.New().String()
}

// =============================================================================
// PENDING TRACKER
// =============================================================================

// PendingTracker records, per session, the turn id of a send that has been
// dispatched but may not yet have a registry entry. The router's fallback
// path consults it and applies an orphan delta to live state only on a
// strict turn-id match.
type PendingTracker struct {
	mu      sync.Mutex
	pending map[string]string // session id -> turn id
}

// NewPendingTracker creates an empty tracker.
func NewPendingTracker() *PendingTracker {
	return &PendingTracker{
		pending: make(map[string]string),
	}
}

// Set records the pending turn for a session, replacing any previous one.
// A rapid re-send therefore orphans the older turn: its fallback deltas no
// longer match and are dropped.
func (t *PendingTracker) Set(sessionID, turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[sessionID] = turnID
}

// Get returns the pending turn id for a session, or "".
func (t *PendingTracker) Get(sessionID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[sessionID]
}

// Clear removes the pending record, but only if it still names the given
// turn; a newer send's record survives.
func (t *PendingTracker) Clear(sessionID, turnID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[sessionID] == turnID {
		delete(t.pending, sessionID)
	}
}

// Matches reports whether turnID is the pending turn for sessionID.
func (t *PendingTracker) Matches(sessionID, turnID string) bool {
	if turnID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending[sessionID] == turnID
}
