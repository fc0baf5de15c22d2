// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry tracks every in-flight provider stream by turn id,
// independent of which session is foregrounded.
//
// The registry is the single authority on stream state. Deltas always land
// here; the live projection is a conditional second write for the
// foregrounded session. Mutators for unknown turn ids are silent no-ops:
// a delta racing a cancellation or a completion is expected traffic, not
// an error.
package registry
