// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream provides the throttled content buffer that decouples
// network delta frequency from UI re-render frequency.
//
// The ContentBuffer batches rapid text deltas and publishes them at a
// bounded rate. No delta is ever lost: anything not published immediately
// is held and delivered by a deferred flush or a forced one. One buffer
// serves one foreground turn; background streams write to the registry
// directly and never pass through here.
package stream
