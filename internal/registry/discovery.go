// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// DISCOVERY STREAM LIFECYCLE
// =============================================================================

// StartDiscoveryStream registers a discovery pass for a completed chat
// turn. Mode is captured here, at trigger time; a settings change while the
// pass runs does not retroactively change how its items are labeled.
func (r *Registry) StartDiscoveryStream(sessionID, turnID string, mode model.DiscoveryMode) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	r.mu.Lock()
	if _, exists := r.discovery[turnID]; exists {
		r.mu.Unlock()
		return ErrTurnExists
	}
	r.discovery[turnID] = &discoveryEntry{
		sessionID: sessionID,
		turnID:    turnID,
		mode:      mode,
		startedAt: time.Now(),
	}
	r.mu.Unlock()

	if r.live != nil {
		r.live.SetDiscoveryStatus(sessionID, turnID, live.DiscoveryPending)
	}
	r.log.Debug("discovery stream registered",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("mode", string(mode)))
	return nil
}

// AddDiscoveryItem records a surfaced item, stamped with the pass's turn,
// session, and trigger-time mode. Unknown turn ids are dropped.
func (r *Registry) AddDiscoveryItem(turnID string, item *model.DiscoveryItem) {
	if item == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.discovery[turnID]
	if !ok {
		return
	}
	item.TurnID = e.turnID
	item.SessionID = e.sessionID
	item.Mode = e.mode
	e.items = append(e.items, item)
}

// CompleteDiscoveryStream finishes a pass: items are persisted to the
// session and the turn's badge resolves to done, or to empty when the pass
// surfaced nothing. The entry is always removed.
func (r *Registry) CompleteDiscoveryStream(turnID string) {
	r.mu.Lock()
	e, ok := r.discovery[turnID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.discovery, turnID)
	r.mu.Unlock()

	if len(e.items) == 0 {
		if r.live != nil {
			r.live.SetDiscoveryStatus(e.sessionID, turnID, live.DiscoveryEmpty)
		}
		r.log.Debug("discovery pass surfaced nothing",
			zap.String("session_id", e.sessionID),
			zap.String("turn_id", turnID))
		return
	}

	r.persistDiscoveryItems(e)
	if r.live != nil {
		r.live.SetDiscoveryStatus(e.sessionID, turnID, live.DiscoveryDone)
		r.live.PublishDiscoveryItems(e.sessionID, e.items)
	}
}

// FailDiscoveryStream abandons a pass. Discovery is best-effort; the badge
// is removed rather than left pending and the chat turn is unaffected.
func (r *Registry) FailDiscoveryStream(turnID string, err error) {
	r.mu.Lock()
	e, ok := r.discovery[turnID]
	if ok {
		delete(r.discovery, turnID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if r.live != nil {
		r.live.ClearDiscoveryStatus(turnID)
	}
	r.log.Warn("discovery pass failed",
		zap.String("session_id", e.sessionID),
		zap.String("turn_id", turnID),
		zap.Error(err))
}

// persistDiscoveryItems appends a pass's items to its session, applying the
// retention bound. Failures are logged and swallowed.
func (r *Registry) persistDiscoveryItems(e *discoveryEntry) {
	sess, err := r.store.Load(e.sessionID)
	if err != nil {
		r.log.Error("session load failed for discovery items",
			zap.String("session_id", e.sessionID),
			zap.Error(err))
		return
	}
	sess.AppendDiscoveryItems(e.items)
	sess.TrimDiscoveryItems(r.store.RetentionItems)
	if err := r.store.Save(sess); err != nil {
		r.log.Error("discovery items save failed",
			zap.String("session_id", e.sessionID),
			zap.Error(err))
	}
}
