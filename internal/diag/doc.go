// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diag provides the categorized diagnostic logger for the stream
// core. Persistence failures during off-screen completion, discovery
// errors, and provider dispatch traces all land here rather than being
// surfaced to the user; the primary chat turn must never fail because a
// diagnostic write did.
package diag
