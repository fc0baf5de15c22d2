// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotConfigured means the provider's API key is missing from the
	// environment.
	ErrNotConfigured = errors.New("provider not configured: missing API key")
	// ErrRateLimited means the provider refused the request with a 429.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-200 response from a provider.
type APIError struct {
	Provider Name
	Status   int
	Body     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.Status, e.Body)
}

// Is allows 429 responses to match ErrRateLimited.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.Status == 429
}

// =============================================================================
// ERROR CATEGORIZATION
// =============================================================================

// Category buckets a provider failure for user-facing explanation.
type Category int

const (
	CategoryGeneric Category = iota
	CategoryAuthentication
	CategoryRateLimit
	CategoryNetwork
	CategoryServerError
	CategoryModelUnavailable
	CategoryContentFilter
	CategoryContextLength
)

// Categorize buckets an error by the text providers actually send. Wire
// formats differ per provider; substring matching on the combined message
// is the only classification that works across all three.
func Categorize(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	msg := strings.ToLower(err.Error())

	switch {
	case contains(msg, "401", "unauthorized", "authentication", "invalid api key", "invalid x-api-key", "permission denied"):
		return CategoryAuthentication
	case contains(msg, "429", "rate limit", "quota exceeded", "too many requests"):
		return CategoryRateLimit
	case contains(msg, "connection refused", "connection reset", "no such host", "network", "timeout", "unexpected eof", "broken pipe"):
		return CategoryNetwork
	case contains(msg, "500", "502", "503", "529", "overloaded", "internal server", "server error", "bad gateway"):
		return CategoryServerError
	case contains(msg, "model not found", "model_not_found", "does not exist", "unknown model", "model is not supported"):
		return CategoryModelUnavailable
	case contains(msg, "content filter", "content_filter", "safety", "blocked by", "refusal"):
		return CategoryContentFilter
	case contains(msg, "context length", "context_length", "maximum context", "too many tokens", "prompt is too long"):
		return CategoryContextLength
	default:
		return CategoryGeneric
	}
}

// Explain turns a provider failure into the sentence shown in the
// transcript.
func Explain(modelID string, err error) string {
	switch Categorize(err) {
	case CategoryAuthentication:
		return "Authentication failed. Check the API key for " + string(ProviderFor(modelID)) + " in your environment."
	case CategoryRateLimit:
		return "Rate limit exceeded. Wait a moment and try again."
	case CategoryNetwork:
		return "Network error. Check your connection and try again."
	case CategoryServerError:
		return "The provider is having trouble right now. Try again shortly."
	case CategoryModelUnavailable:
		return fmt.Sprintf("The model %q is unavailable. Pick a different model in settings.", modelID)
	case CategoryContentFilter:
		return "The response was blocked by the provider's content filter."
	case CategoryContextLength:
		return "This conversation is too long for the model. Start a new session or switch to a model with a larger context."
	default:
		return "Something went wrong: " + err.Error()
	}
}

func contains(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
