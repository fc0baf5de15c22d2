// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import "github.com/jeranaias/backchat/internal/model"

// =============================================================================
// STREAM EVENTS
// =============================================================================

// Event is a provider stream event addressed to a turn.
type Event interface {
	// Turn returns the turn id the event belongs to.
	Turn() string
}

// ChatTextDelta carries a fragment of response text.
type ChatTextDelta struct {
	SessionID string
	TurnID    string
	Text      string
}

// ChatThinkingDelta carries a fragment of thinking text.
type ChatThinkingDelta struct {
	SessionID string
	TurnID    string
	Text      string
}

// ChatThinkingDone marks the end of the thinking phase.
type ChatThinkingDone struct {
	SessionID string
	TurnID    string
}

// ChatExecutionStarted announces a tool invocation.
type ChatExecutionStarted struct {
	SessionID string
	TurnID    string
	ToolName  string
	Code      string
}

// ChatExecutionOutput carries tool stdout/stderr fragments.
type ChatExecutionOutput struct {
	SessionID string
	TurnID    string
	Stdout    string
	Stderr    string
}

// ChatExecutionDone finishes a tool invocation, successfully or not.
type ChatExecutionDone struct {
	SessionID string
	TurnID    string
	Failed    bool
	Error     string
	Files     []string
}

// ChatCitation carries a legacy source reference.
type ChatCitation struct {
	SessionID string
	TurnID    string
	Citation  model.Citation
}

// ChatInlineCitation carries a positioned source reference.
type ChatInlineCitation struct {
	SessionID string
	TurnID    string
	Citation  model.InlineCitation
}

// ChatContainerID carries the provider-issued sandbox handle.
type ChatContainerID struct {
	SessionID   string
	TurnID      string
	ContainerID string
}

// ChatDone marks the successful end of a chat stream.
type ChatDone struct {
	SessionID string
	TurnID    string
}

// ChatCancelled marks a stream torn down before completion.
type ChatCancelled struct {
	SessionID string
	TurnID    string
}

// ChatError marks a stream broken by a provider failure. Explanation is
// the already-categorized user-facing text.
type ChatError struct {
	SessionID   string
	TurnID      string
	Explanation string
}

// DiscoveryItemEvent carries one surfaced discovery item.
type DiscoveryItemEvent struct {
	SessionID string
	TurnID    string
	Item      *model.DiscoveryItem
}

// DiscoveryDone marks the end of a discovery pass.
type DiscoveryDone struct {
	SessionID string
	TurnID    string
}

// DiscoveryError marks a failed discovery pass.
type DiscoveryError struct {
	SessionID string
	TurnID    string
	Err       error
}

func (e ChatTextDelta) Turn() string        { return e.TurnID }
func (e ChatThinkingDelta) Turn() string    { return e.TurnID }
func (e ChatThinkingDone) Turn() string     { return e.TurnID }
func (e ChatExecutionStarted) Turn() string { return e.TurnID }
func (e ChatExecutionOutput) Turn() string  { return e.TurnID }
func (e ChatExecutionDone) Turn() string    { return e.TurnID }
func (e ChatCitation) Turn() string         { return e.TurnID }
func (e ChatInlineCitation) Turn() string   { return e.TurnID }
func (e ChatContainerID) Turn() string      { return e.TurnID }
func (e ChatDone) Turn() string             { return e.TurnID }
func (e ChatCancelled) Turn() string        { return e.TurnID }
func (e ChatError) Turn() string            { return e.TurnID }
func (e DiscoveryItemEvent) Turn() string   { return e.TurnID }
func (e DiscoveryDone) Turn() string        { return e.TurnID }
func (e DiscoveryError) Turn() string       { return e.TurnID }
