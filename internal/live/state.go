// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	"strings"
	"sync"

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// DISCOVERY STATUS
// =============================================================================

// DiscoveryStatus is the badge state of a turn's discovery pass.
type DiscoveryStatus string

const (
	// DiscoveryPending: the pass is running, no items yet.
	DiscoveryPending DiscoveryStatus = "pending"
	// DiscoveryEmpty: the pass finished without surfacing anything.
	DiscoveryEmpty DiscoveryStatus = "empty"
	// DiscoveryDone: the pass finished with at least one item.
	DiscoveryDone DiscoveryStatus = "done"
)

// =============================================================================
// LIVE STATE
// =============================================================================

// State is the foreground streaming projection. At most one turn streams
// into it at a time; writes for any other turn are silently dropped, since
// the registry still records them.
type State struct {
	mu  sync.Mutex
	pub Publisher

	activeSessionID string

	// Foreground stream, valid while turnID != "".
	turnID    string
	sessionID string
	text      strings.Builder
	thinking  strings.Builder
	exec      model.ExecStatus

	// Per-turn discovery badge state. Survives stream finalization so a
	// badge can resolve after its chat turn is done.
	discovery map[string]DiscoveryStatus
}

// NewState creates a projection publishing through pub. A nil pub runs the
// projection headless.
func NewState(pub Publisher) *State {
	if pub == nil {
		pub = nopPublisher{}
	}
	return &State{
		pub:       pub,
		discovery: make(map[string]DiscoveryStatus),
	}
}

// SetActiveSession switches the foregrounded session. Any stream mirrored
// for a different session is dropped from the projection; the registry
// retains it.
func (s *State) SetActiveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSessionID = sessionID
	if s.turnID != "" && s.sessionID != sessionID {
		s.resetStreamLocked()
	}
}

// ActiveSessionID returns the foregrounded session id, or "".
func (s *State) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSessionID
}

// IsActive reports whether sessionID is foregrounded.
func (s *State) IsActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionID != "" && sessionID == s.activeSessionID
}

// BeginStream claims the projection for a turn. Refused when the session is
// not foregrounded; a later turn replaces an earlier one.
func (s *State) BeginStream(sessionID, turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.activeSessionID {
		return
	}
	s.resetStreamLocked()
	s.turnID = turnID
	s.sessionID = sessionID
}

// ResumeStream re-claims the projection for a stream whose owning session
// has been foregrounded again, seeding it with the state accumulated while
// the session ran in the background. Refused unless the session is active.
func (s *State) ResumeStream(sessionID, turnID, text, thinking string, exec model.ExecStatus) {
	s.mu.Lock()
	if sessionID != s.activeSessionID {
		s.mu.Unlock()
		return
	}
	s.resetStreamLocked()
	s.turnID = turnID
	s.sessionID = sessionID
	s.text.WriteString(text)
	s.thinking.WriteString(thinking)
	s.exec = exec
	s.mu.Unlock()
	s.pub.Send(StreamResumedMsg{
		SessionID: sessionID,
		TurnID:    turnID,
		Text:      text,
		Thinking:  thinking,
		Status:    exec,
	})
}

// OwnsStream reports whether turnID currently streams into the projection.
func (s *State) OwnsStream(turnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return turnID != "" && turnID == s.turnID
}

// AppendText mirrors a batch of response text and notifies the UI. Dropped
// unless turnID owns the projection.
func (s *State) AppendText(turnID, text string) {
	s.mu.Lock()
	if turnID != s.turnID || text == "" {
		s.mu.Unlock()
		return
	}
	s.text.WriteString(text)
	sessionID := s.sessionID
	s.mu.Unlock()
	s.pub.Send(TextDeltaMsg{SessionID: sessionID, TurnID: turnID, Text: text})
}

// AppendThinking mirrors a batch of thinking text and notifies the UI.
func (s *State) AppendThinking(turnID, text string) {
	s.mu.Lock()
	if turnID != s.turnID || text == "" {
		s.mu.Unlock()
		return
	}
	s.thinking.WriteString(text)
	sessionID := s.sessionID
	s.mu.Unlock()
	s.pub.Send(ThinkingDeltaMsg{SessionID: sessionID, TurnID: turnID, Text: text})
}

// SetExecution mirrors a tool-execution state change and notifies the UI.
func (s *State) SetExecution(turnID string, status model.ExecStatus) {
	s.mu.Lock()
	if turnID != s.turnID {
		s.mu.Unlock()
		return
	}
	s.exec = status
	sessionID := s.sessionID
	s.mu.Unlock()
	s.pub.Send(ExecutionMsg{SessionID: sessionID, TurnID: turnID, Status: status})
}

// Text returns the mirrored response text so far.
func (s *State) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Thinking returns the mirrored thinking text so far.
func (s *State) Thinking() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinking.String()
}

// Finalize clears the stream projection and announces the materialized
// message. Dropped unless turnID owns the projection.
func (s *State) Finalize(turnID string, msg *model.Message) {
	s.mu.Lock()
	if turnID != s.turnID {
		s.mu.Unlock()
		return
	}
	sessionID := s.sessionID
	s.resetStreamLocked()
	s.mu.Unlock()
	s.pub.Send(StreamFinalizedMsg{SessionID: sessionID, Message: msg})
}

// Clear discards the stream projection without materializing anything.
// Dropped unless turnID owns the projection.
func (s *State) Clear(turnID string) {
	s.mu.Lock()
	if turnID != s.turnID {
		s.mu.Unlock()
		return
	}
	sessionID := s.sessionID
	s.resetStreamLocked()
	s.mu.Unlock()
	s.pub.Send(StreamClearedMsg{SessionID: sessionID, TurnID: turnID})
}

// SetDiscoveryStatus updates a turn's discovery badge and notifies the UI.
// Badge state is kept regardless of which session is foregrounded; the UI
// filters by session when rendering.
func (s *State) SetDiscoveryStatus(sessionID, turnID string, status DiscoveryStatus) {
	s.mu.Lock()
	s.discovery[turnID] = status
	s.mu.Unlock()
	s.pub.Send(DiscoveryStatusMsg{SessionID: sessionID, TurnID: turnID, Status: status})
}

// DiscoveryStatusFor returns the badge state of a turn's discovery pass.
func (s *State) DiscoveryStatusFor(turnID string) (DiscoveryStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.discovery[turnID]
	return status, ok
}

// ClearDiscoveryStatus removes a turn's badge record.
func (s *State) ClearDiscoveryStatus(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.discovery, turnID)
}

// PublishDiscoveryItems forwards surfaced items for a foregrounded session.
// Off-screen sessions get theirs from the store on next load.
func (s *State) PublishDiscoveryItems(sessionID string, items []*model.DiscoveryItem) {
	if len(items) == 0 || !s.IsActive(sessionID) {
		return
	}
	s.pub.Send(DiscoveryItemsMsg{SessionID: sessionID, Items: items})
}

// resetStreamLocked drops the stream projection. Caller must hold the lock.
func (s *State) resetStreamLocked() {
	s.turnID = ""
	s.sessionID = ""
	s.text.Reset()
	s.thinking.Reset()
	s.exec = model.ExecIdle
}
