// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import "strings"

// =============================================================================
// PROVIDER SELECTION
// =============================================================================

// Name identifies a model provider.
type Name string

const (
	Anthropic Name = "anthropic"
	OpenAI    Name = "openai"
	Google    Name = "google"
)

// ProviderFor selects the provider by model id prefix. Anthropic is the
// default for anything unrecognized.
func ProviderFor(modelID string) Name {
	m := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return OpenAI
	case strings.HasPrefix(m, "gemini"):
		return Google
	default:
		return Anthropic
	}
}
