// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn provides turn identity: the opaque correlation token minted
// once per user request, threading together the user message, assistant
// response, discovery results, and every transport event of one exchange.
package turn
