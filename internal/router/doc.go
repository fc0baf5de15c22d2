// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router turns provider stream events into registry and live-state
// writes.
//
// Every event carries the turn id it belongs to, and routing is keyed on
// that id alone. The registry write is unconditional; the live write
// happens only while the owning session is foregrounded. Deltas that
// arrive before their registry entry exists are applied to the foreground
// projection only on a strict pending-turn match, so a delta from an
// orphaned send can never bleed into a newer turn's output.
package router
