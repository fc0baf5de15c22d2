// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides sqlite-backed session persistence for backchat.
//
// The stream core uses it as an opaque collaborator: load a session by id,
// append the output of a finished background stream, save. Transcripts and
// discovery items are stored as JSON documents inside the session row;
// listing metadata is kept in queryable columns.
package store
