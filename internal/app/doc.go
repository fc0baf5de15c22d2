// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the stream core together and exposes the operations a
// frontend calls: send a message, cancel the watched stream, switch
// sessions, restore activity badges.
//
// A send survives its frontend: once dispatched, the stream is owned by
// the registry and finishes against the store no matter which session is
// foregrounded.
package app
