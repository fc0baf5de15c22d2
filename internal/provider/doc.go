// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider dispatches chat and discovery requests to the model
// providers and decodes their streaming responses into routable events.
//
// Provider selection is by model id prefix. API keys come from the
// environment only. Outbound dispatches are rate limited per provider,
// and at most one chat stream is cancellable at a time: cancel always
// means "the stream the user is watching".
package provider
