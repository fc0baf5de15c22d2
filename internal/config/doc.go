// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for backchat.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides, plus an fsnotify-based watcher that reloads the file
// when it changes on disk.
//
// Configuration file location:
//   - ~/.backchat/config.toml
//   - Built-in defaults
package config
