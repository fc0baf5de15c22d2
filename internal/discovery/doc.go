// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package discovery runs the secondary pass that surfaces tangential
// resources after a chat turn completes.
//
// The pass is best-effort: it shares the completed turn's id, captures the
// session's discovery mode once at trigger time, and streams model output
// through an incremental extractor that yields items as soon as their JSON
// objects close. A failed pass never affects the chat turn it followed.
package discovery
