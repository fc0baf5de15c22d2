// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// =============================================================================
// DISCOVERY MODE
// =============================================================================

// DiscoveryMode controls whether and how the secondary discovery pass runs
// after a chat turn completes.
type DiscoveryMode string

const (
	// DiscoveryDisabled turns the discovery pass off entirely.
	DiscoveryDisabled DiscoveryMode = "disabled"
	// DiscoveryStandard runs discovery with the default result budget.
	DiscoveryStandard DiscoveryMode = "standard"
	// DiscoveryDeep runs discovery with a larger result budget and a more
	// exploratory system prompt.
	DiscoveryDeep DiscoveryMode = "deep"
)

// Valid reports whether m is a known mode.
func (m DiscoveryMode) Valid() bool {
	switch m {
	case DiscoveryDisabled, DiscoveryStandard, DiscoveryDeep:
		return true
	}
	return false
}

// =============================================================================
// DISCOVERY ITEM
// =============================================================================

// DiscoveryItem is one tangential resource surfaced by the discovery pass.
// TurnID, SessionID, and Mode are stamped by the trigger when the item
// arrives; Mode is the mode captured at trigger time, not the current
// setting.
type DiscoveryItem struct {
	Title                string `json:"title"`
	OneLiner             string `json:"oneLiner"`
	FullSummary          string `json:"fullSummary"`
	RelevanceExplanation string `json:"relevanceExplanation"`
	SourceURL            string `json:"sourceUrl"`
	SourceDomain         string `json:"sourceDomain"`
	Category             string `json:"category"`
	RelevanceScore       int    `json:"relevanceScore"`

	TurnID    string        `json:"turnId,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Mode      DiscoveryMode `json:"mode,omitempty"`
}
