// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared across the backchat
// core: sessions, messages, citations, tool execution results, and
// discovery items.
//
// Everything in this package is a plain serializable value. Mutation rules
// (who may write which field, and when) live in the registry and router
// packages; model types carry no behavior beyond construction and
// convenience accessors.
package model
