// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"strings"
	"testing"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"auth 401", &APIError{Provider: Anthropic, Status: 401, Body: "unauthorized"}, CategoryAuthentication},
		{"bad key", errors.New("invalid x-api-key"), CategoryAuthentication},
		{"rate limit", errors.New("429 too many requests"), CategoryRateLimit},
		{"quota", errors.New("quota exceeded for this project"), CategoryRateLimit},
		{"network refused", errors.New("dial tcp: connection refused"), CategoryNetwork},
		{"network dns", errors.New("lookup api.example.com: no such host"), CategoryNetwork},
		{"server 500", errors.New("500 internal server error"), CategoryServerError},
		{"overloaded", errors.New("overloaded_error: try later"), CategoryServerError},
		{"model gone", errors.New("model_not_found: claude-1"), CategoryModelUnavailable},
		{"filter", errors.New("response blocked by content filter"), CategoryContentFilter},
		{"context", errors.New("prompt is too long: maximum context exceeded"), CategoryContextLength},
		{"generic", errors.New("something odd"), CategoryGeneric},
		{"nil", nil, CategoryGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.want {
				t.Errorf("Categorize(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestExplain(t *testing.T) {
	got := Explain("gpt-4o", errors.New("401 unauthorized"))
	if !strings.Contains(got, "openai") {
		t.Errorf("auth explanation should name the provider: %q", got)
	}

	got = Explain("claude-sonnet-4", errors.New("model_not_found"))
	if !strings.Contains(got, "claude-sonnet-4") {
		t.Errorf("unavailable explanation should name the model: %q", got)
	}

	got = Explain("m", errors.New("mystery failure"))
	if !strings.Contains(got, "mystery failure") {
		t.Errorf("generic explanation should carry the raw error: %q", got)
	}
}

func TestAPIError_IsRateLimited(t *testing.T) {
	err := error(&APIError{Provider: OpenAI, Status: 429, Body: "slow down"})
	if !errors.Is(err, ErrRateLimited) {
		t.Error("429 APIError should match ErrRateLimited")
	}
	err = &APIError{Provider: OpenAI, Status: 500}
	if errors.Is(err, ErrRateLimited) {
		t.Error("500 APIError must not match ErrRateLimited")
	}
}

func TestProviderFor(t *testing.T) {
	tests := []struct {
		model string
		want  Name
	}{
		{"gpt-4o", OpenAI},
		{"o3-mini", OpenAI},
		{"o4-mini-high", OpenAI},
		{"gemini-2.5-pro", Google},
		{"claude-sonnet-4", Anthropic},
		{"claude-haiku-4", Anthropic},
		{"", Anthropic},
		{"mystery-model", Anthropic},
	}
	for _, tt := range tests {
		if got := ProviderFor(tt.model); got != tt.want {
			t.Errorf("ProviderFor(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}
