// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher delivers messages to the UI loop. *tea.Program satisfies it.
type Publisher interface {
	Send(msg tea.Msg)
}

// nopPublisher discards messages. Used headless and in tests.
type nopPublisher struct{}

func (nopPublisher) Send(tea.Msg) {}

// =============================================================================
// UI MESSAGES
// =============================================================================

// TextDeltaMsg carries a batch of streamed response text for the
// foreground turn.
type TextDeltaMsg struct {
	SessionID string
	TurnID    string
	Text      string
}

// ThinkingDeltaMsg carries a batch of streamed thinking text.
type ThinkingDeltaMsg struct {
	SessionID string
	TurnID    string
	Text      string
}

// ExecutionMsg announces a change in the foreground turn's tool execution
// view.
type ExecutionMsg struct {
	SessionID string
	TurnID    string
	Status    model.ExecStatus
}

// StreamResumedMsg announces that a re-foregrounded session's in-flight
// stream was re-attached, carrying everything accumulated while it ran in
// the background.
type StreamResumedMsg struct {
	SessionID string
	TurnID    string
	Text      string
	Thinking  string
	Status    model.ExecStatus
}

// StreamFinalizedMsg announces that the foreground stream materialized into
// a transcript message.
type StreamFinalizedMsg struct {
	SessionID string
	Message   *model.Message
}

// StreamClearedMsg announces that the foreground stream was discarded
// without producing a message.
type StreamClearedMsg struct {
	SessionID string
	TurnID    string
}

// DiscoveryStatusMsg announces a per-turn discovery badge change.
type DiscoveryStatusMsg struct {
	SessionID string
	TurnID    string
	Status    DiscoveryStatus
}

// DiscoveryItemsMsg carries discovery items surfaced for the foreground
// session.
type DiscoveryItemsMsg struct {
	SessionID string
	Items     []*model.DiscoveryItem
}
