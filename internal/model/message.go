// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// =============================================================================
// CITATIONS
// =============================================================================

// Citation is a legacy (unpositioned) source reference attached to an
// assistant message. Deduplicated by URL at materialization time.
type Citation struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	CitedText string `json:"cited_text,omitempty"`
}

// InlineCitation is a source reference anchored to a character offset in the
// response text. Two inline citations may share a URL at different offsets;
// position is semantically meaningful, so they are never deduplicated.
type InlineCitation struct {
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	CitedText  string `json:"cited_text,omitempty"`
	CharOffset int    `json:"char_offset"`
}

// =============================================================================
// TOOL EXECUTION
// =============================================================================

// ExecStatus is the state of a turn's tool execution.
type ExecStatus int

const (
	ExecIdle ExecStatus = iota
	ExecRunning
	ExecCompleted
	ExecFailed
)

// String returns the wire name of the status.
func (s ExecStatus) String() string {
	switch s {
	case ExecRunning:
		return "running"
	case ExecCompleted:
		return "completed"
	case ExecFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Execution is the finalized tool-execution record of a message. Code is the
// concatenation of every invocation in the turn; Error is set only when
// Status is ExecFailed.
type Execution struct {
	ToolName   string     `json:"tool_name,omitempty"`
	Code       string     `json:"code,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
	Status     ExecStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Files      []string   `json:"files,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	// TextOffset is the offset into the response text at which execution
	// output began, so a renderer can interleave output with prose.
	TextOffset int `json:"text_offset,omitempty"`
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is one entry in a session's transcript. Assistant messages
// produced by a background stream are immutable once materialized.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// TurnID correlates the message with its originating exchange. Set on
	// user messages at send time and on assistant messages at
	// materialization, so exports keep request/response pairs aligned.
	TurnID string `json:"turn_id,omitempty"`

	// Assistant-only fields.
	Citations       []Citation       `json:"citations,omitempty"`
	InlineCitations []InlineCitation `json:"inline_citations,omitempty"`
	Thinking        string           `json:"thinking,omitempty"`
	// ThinkingDurationMs is nil when the turn produced no thinking content.
	ThinkingDurationMs *int64     `json:"thinking_duration_ms,omitempty"`
	Execution          *Execution `json:"execution,omitempty"`

	// IsError marks a synthesized error explanation appended when a
	// dispatch failed.
	IsError bool `json:"is_error,omitempty"`
}

// NewUserMessage creates a user message tagged with its turn id.
func NewUserMessage(turnID, content string) *Message {
	return &Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Content:   content,
		TurnID:    turnID,
		Timestamp: time.Now(),
	}
}

// NewErrorMessage creates a synthesized assistant-role error message for a
// failed dispatch. Turn-tagged so it aligns with its user message.
func NewErrorMessage(turnID, explanation string) *Message {
	return &Message{
		ID:        NewMessageID(),
		Role:      RoleAssistant,
		Content:   explanation,
		TurnID:    turnID,
		Timestamp: time.Now(),
		IsError:   true,
	}
}

// NewMessageID creates a unique message ID.
func NewMessageID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return "msg_" + hex.EncodeToString(bytes)
}
