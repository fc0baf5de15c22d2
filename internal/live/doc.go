// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package live holds the foreground projection of in-flight streams.
//
// The registry is always the authority on stream state; this package is a
// conditional mirror of the single stream whose session is currently
// foregrounded. Mutations are published to the UI loop as bubbletea
// messages, so renders happen on the program's goroutine while the
// projection itself stays safe to update from network callbacks.
package live
