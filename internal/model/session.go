// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/jeranaias/backchat/internal/util"
)

// =============================================================================
// SETTINGS SNAPSHOT
// =============================================================================

// Settings is the per-session settings snapshot persisted alongside the
// transcript. A background stream completing off-screen must not observe
// settings changed after its turn was dispatched, so the snapshot is copied
// into the session at save time.
type Settings struct {
	Model          string        `json:"model"`
	SystemPrompt   string        `json:"system_prompt,omitempty"`
	DiscoveryMode  DiscoveryMode `json:"discovery_mode"`
	DiscoveryModel string        `json:"discovery_model,omitempty"`
}

// =============================================================================
// SESSION
// =============================================================================

// Session is a persisted chat session: ordered transcript, ordered discovery
// items, and the settings snapshot. The stream core treats it as the unit of
// load/save; a finished background stream's output is appended exactly once.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages       []*Message       `json:"messages"`
	DiscoveryItems []*DiscoveryItem `json:"discovery_items,omitempty"`

	Settings Settings `json:"settings"`

	// ContainerID is the opaque provider-issued sandbox handle, reused
	// across turns in this session. Empty until the provider issues one.
	ContainerID string `json:"container_id,omitempty"`
}

// NewSession creates an empty session with a generated ID.
func NewSession(settings Settings) *Session {
	now := time.Now()
	return &Session{
		ID:        generateSessionID(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]*Message, 0),
		Settings:  settings,
	}
}

// AppendMessage appends a message and bumps the updated-at timestamp.
func (s *Session) AppendMessage(msg *Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now()
	s.updateTitle()
}

// AppendDiscoveryItems appends discovery items and bumps updated-at.
func (s *Session) AppendDiscoveryItems(items []*DiscoveryItem) {
	if len(items) == 0 {
		return
	}
	s.DiscoveryItems = append(s.DiscoveryItems, items...)
	s.UpdatedAt = time.Now()
}

// TrimDiscoveryItems keeps only the most recent max items. Retention is a
// storage bound, not a protocol requirement.
func (s *Session) TrimDiscoveryItems(max int) {
	if max <= 0 || len(s.DiscoveryItems) <= max {
		return
	}
	s.DiscoveryItems = s.DiscoveryItems[len(s.DiscoveryItems)-max:]
}

// LastUserMessage returns the most recent user message, or nil.
func (s *Session) LastUserMessage() *Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i]
		}
	}
	return nil
}

// MessageByTurnID returns the message with the given role and turn id, or
// nil. Used to guard exactly-once appends.
func (s *Session) MessageByTurnID(turnID string, role Role) *Message {
	for _, msg := range s.Messages {
		if msg.TurnID == turnID && msg.Role == role {
			return msg
		}
	}
	return nil
}

// updateTitle auto-generates a title from the first user message if unset.
func (s *Session) updateTitle() {
	if s.Title != "" {
		return
	}
	for _, msg := range s.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			s.Title = util.TruncateRunes(util.CollapseWhitespace(msg.Content), 50)
			return
		}
	}
}

// generateSessionID creates a unique session ID.
func generateSessionID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "sess_" + hex.EncodeToString(bytes)
}
